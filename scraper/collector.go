package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-stations/config"
	"github.com/aluiziolira/go-scrape-stations/fetcher"
	"github.com/aluiziolira/go-scrape-stations/models"
	"github.com/aluiziolira/go-scrape-stations/parser"
	"github.com/aluiziolira/go-scrape-stations/session"
)

// Failure reasons that are not fetch error labels.
const (
	ReasonStall       = "stall"
	ReasonInterrupted = "interrupted"
	ReasonTotalDrift  = "total_drift"
	ReasonSession     = "session"
)

var (
	errTotalDrift         = errors.New("declared total changed mid-chain")
	errSessionUnavailable = errors.New("no session available")
)

// PageFetcher issues the two kinds of page request.
type PageFetcher interface {
	FetchFirstPage(ctx context.Context, region models.Region, sess *session.Session) (*models.Page, error)
	FetchNextPage(ctx context.Context, region models.Region, sess *session.Session, cursor string) (*models.Page, error)
	Identity() string
}

// SessionSource hands out the shared session and replaces it on demand.
type SessionSource interface {
	Current(ctx context.Context) (*session.Session, error)
	Refresh(ctx context.Context, stale *session.Session) (*session.Session, error)
}

// RegionCollector walks one region's cursor chain to exhaustion.
type RegionCollector struct {
	fetcher    PageFetcher
	sessions   SessionSource
	metrics    *Metrics
	excluded   map[string]struct{}
	maxRetries int
	politeMin  time.Duration
	politeMax  time.Duration
	rateLimit  backoff
	transient  backoff

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewRegionCollector builds a collector that fetches through f.
func NewRegionCollector(cfg *config.Config, f PageFetcher, sessions SessionSource, metrics *Metrics) *RegionCollector {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RegionCollector{
		fetcher:    f,
		sessions:   sessions,
		metrics:    metrics,
		excluded:   cfg.Excluded(),
		maxRetries: maxRetries,
		politeMin:  cfg.DelayMin,
		politeMax:  cfg.DelayMax,
		rateLimit:  backoff{min: cfg.RateLimitBackoffMin, max: cfg.RateLimitBackoffMax},
		transient:  backoff{min: cfg.RetryBackoffMin, max: cfg.RetryBackoffMax},
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// Identity names the egress path the collector fetches through.
func (rc *RegionCollector) Identity() string {
	return rc.fetcher.Identity()
}

// regionState is the deduplicated station set of one region.
type regionState struct {
	region models.Region
	seen   map[string]struct{}
	kept   []models.Station
	total  int
}

// Collect runs the region state machine. Once stop is done the collector
// finishes the page in flight and reports the region as partial.
func (rc *RegionCollector) Collect(stop context.Context, region models.Region) *models.CollectionResult {
	start := rc.now()
	res := &models.CollectionResult{Region: region}
	defer func() {
		res.Duration = rc.now().Sub(start)
	}()

	// In-flight requests outlive stop so a page is never abandoned half way.
	ctx := context.WithoutCancel(stop)
	st := &regionState{region: region, seen: make(map[string]struct{})}

	page, err := rc.fetchPage(ctx, res, region, "")
	if err != nil {
		return rc.fail(res, st, err)
	}
	res.Pages++
	rc.metrics.IncPages()

	if !page.HasTotal || page.Total <= 0 {
		res.Status = models.StatusComplete
		return res
	}
	st.total = page.Total
	res.TotalExpected = page.Total
	rc.merge(st, res, page.Stations)
	cursor := page.Cursor

	for cursor != "" && len(st.kept) < st.total {
		if stop.Err() != nil {
			return rc.partial(res, st, ReasonInterrupted)
		}
		if err := rc.sleep(stop, between(rc.politeMin, rc.politeMax)); err != nil {
			return rc.partial(res, st, ReasonInterrupted)
		}

		page, err := rc.fetchPage(ctx, res, region, cursor)
		if err != nil {
			return rc.fail(res, st, err)
		}
		res.Pages++
		rc.metrics.IncPages()

		if page.HasTotal && page.Total != st.total {
			return rc.fail(res, st, fmt.Errorf("%w: %d to %d", errTotalDrift, st.total, page.Total))
		}

		added := rc.merge(st, res, page.Stations)
		cursor = page.Cursor
		if added == 0 && cursor != "" {
			slog.Warn("pagination stalled",
				slog.String("region", string(region)),
				slog.Int("pages", res.Pages),
				slog.Int("stations", len(st.kept)),
				slog.Int("expected", st.total),
			)
			return rc.partial(res, st, ReasonStall)
		}
	}

	res.Status = models.StatusComplete
	res.Stations = st.kept
	return res
}

// merge adds the page's unseen stations and returns how many ids were new.
// Stations in excluded jurisdictions count as seen but are never kept, so
// they cannot make a page look stalled nor count toward the total.
func (rc *RegionCollector) merge(st *regionState, res *models.CollectionResult, stations []models.Station) int {
	added := 0
	now := rc.now().UTC()
	for i := range stations {
		s := stations[i]
		if err := parser.ValidateStation(&s); err != nil {
			continue
		}
		if _, ok := st.seen[s.ID]; ok {
			continue
		}
		st.seen[s.ID] = struct{}{}
		added++

		if parser.Excluded(&s, rc.excluded) {
			res.Filtered++
			continue
		}
		parser.NormalizeStation(&s)
		s.Region = st.region
		s.ScrapedAt = now
		st.kept = append(st.kept, s)
	}
	return added
}

// fetchPage fetches one page, applying the per-error retry policy. An empty
// cursor requests the first page.
func (rc *RegionCollector) fetchPage(ctx context.Context, res *models.CollectionResult, region models.Region, cursor string) (*models.Page, error) {
	sess, err := rc.sessions.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errSessionUnavailable, err)
	}

	var throttled, transient, reauth int
	for {
		var page *models.Page
		if cursor == "" {
			page, err = rc.fetcher.FetchFirstPage(ctx, region, sess)
		} else {
			page, err = rc.fetcher.FetchNextPage(ctx, region, sess, cursor)
		}
		if err == nil {
			return page, nil
		}

		switch {
		case fetcher.IsRateLimited(err):
			throttled++
			if throttled >= rc.maxRetries {
				return nil, err
			}
			res.Retries++
			rc.metrics.IncRetries("rate_limited")
			if err := rc.sleep(ctx, rc.rateLimit.delay(throttled)); err != nil {
				return nil, err
			}

		case fetcher.IsAuthExpired(err):
			if reauth >= 1 {
				return nil, err
			}
			reauth++
			res.Retries++
			rc.metrics.IncRetries("auth_expired")
			fresh, rerr := rc.sessions.Refresh(ctx, sess)
			if rerr != nil {
				slog.Warn("session refresh failed",
					slog.String("region", string(region)),
					slog.Any("error", rerr),
				)
				return nil, err
			}
			if fresh.ID != sess.ID {
				res.Refreshes++
			}
			sess = fresh

		case fetcher.IsRetryable(err):
			transient++
			if transient >= rc.maxRetries {
				return nil, err
			}
			res.Retries++
			rc.metrics.IncRetries(fetcher.ErrorTypeLabel(err))
			if err := rc.sleep(ctx, rc.transient.delay(transient)); err != nil {
				return nil, err
			}

		default:
			return nil, err
		}
	}
}

func (rc *RegionCollector) fail(res *models.CollectionResult, st *regionState, err error) *models.CollectionResult {
	res.Status = models.StatusFailed
	res.Err = err
	res.Reason = failureReason(err)
	res.Stations = nil
	slog.Warn("region failed",
		slog.String("region", string(st.region)),
		slog.String("reason", res.Reason),
		slog.Int("pages", res.Pages),
		slog.Any("error", err),
	)
	return res
}

func (rc *RegionCollector) partial(res *models.CollectionResult, st *regionState, reason string) *models.CollectionResult {
	res.Status = models.StatusPartial
	res.Reason = reason
	res.Stations = st.kept
	return res
}

func failureReason(err error) string {
	var authErr session.AuthError
	switch {
	case errors.Is(err, errTotalDrift):
		return ReasonTotalDrift
	case errors.Is(err, errSessionUnavailable), errors.As(err, &authErr):
		return ReasonSession
	default:
		return fetcher.ErrorTypeLabel(err)
	}
}
