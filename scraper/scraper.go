package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-stations/config"
	"github.com/aluiziolira/go-scrape-stations/fetcher"
	"github.com/aluiziolira/go-scrape-stations/models"
	"github.com/aluiziolira/go-scrape-stations/proxy"
	"github.com/aluiziolira/go-scrape-stations/session"
)

// Scraper wires the session, fetchers and worker pool of one run.
type Scraper struct {
	RunID   string
	Metrics *Metrics

	cfg        *config.Config
	identities []proxy.Identity
	manager    *session.Manager
	sessions   *session.Holder
	limiter    *rate.Limiter
	transport  http.RoundTripper
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	ids, err := proxy.FromURLs(cfg.ProxyURLs)
	if err != nil {
		return nil, fmt.Errorf("configure egress identities: %w", err)
	}

	metrics := NewMetrics()
	manager := session.NewManager(cfg)
	holder := session.NewHolder(manager, ids, cfg)
	holder.OnRefresh(func(*session.Session) {
		metrics.IncSessionRefresh()
	})

	s := &Scraper{
		RunID:      uuid.NewString(),
		Metrics:    metrics,
		cfg:        cfg,
		identities: ids,
		manager:    manager,
		sessions:   holder,
	}
	if cfg.RequestRPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestRPS), 1)
	}
	return s, nil
}

// WithTransport routes every request of the run through rt.
func (s *Scraper) WithTransport(rt http.RoundTripper) *Scraper {
	s.transport = rt
	s.manager.WithTransport(rt)
	return s
}

// Identities returns the egress identities workers are spread over.
func (s *Scraper) Identities() []proxy.Identity {
	return s.identities
}

// Start establishes the shared session. A failure here aborts the run.
func (s *Scraper) Start(ctx context.Context) (*session.Session, error) {
	return s.sessions.Init(ctx)
}

// Run collects every region in queue and commits each result through sink.
func (s *Scraper) Run(ctx context.Context, queue []models.Region, alreadyDone int, sink Sink) (*models.RunSummary, error) {
	stats := NewStats(len(queue), alreadyDone)

	reportCtx, stopReporting := context.WithCancel(context.Background())
	defer stopReporting()
	stats.StartReporting(reportCtx, s.cfg.ReportInterval)

	pool := NewPool(s.cfg.Workers, s.collectorFor, sink, stats, s.Metrics)
	err := pool.Run(ctx, queue)

	summary := stats.Summary(s.RunID)
	summary.Interrupted = ctx.Err() != nil
	summary.SessionRefreshes = s.sessions.Refreshes()
	return &summary, err
}

func (s *Scraper) collectorFor(worker int) Collector {
	opts := []fetcher.Option{fetcher.WithObserver(s.Metrics)}
	if s.limiter != nil {
		opts = append(opts, fetcher.WithLimiter(s.limiter))
	}
	if s.transport != nil {
		opts = append(opts, fetcher.WithTransport(s.transport))
	}
	f := fetcher.New(s.cfg, proxy.Pick(s.identities, worker), opts...)
	return NewRegionCollector(s.cfg, f, s.sessions, s.Metrics)
}
