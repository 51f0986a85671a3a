// Package fetcher issues single page requests against the provider and turns
// them into normalized pages.
package fetcher

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-stations/config"
	"github.com/aluiziolira/go-scrape-stations/models"
	"github.com/aluiziolira/go-scrape-stations/parser"
	"github.com/aluiziolira/go-scrape-stations/proxy"
	"github.com/aluiziolira/go-scrape-stations/session"
)

//go:embed query.graphql
var stationsQuery string

const (
	KindFirstPage = "first_page"
	KindNextPage  = "next_page"
)

// Observer receives one call per issued request.
type Observer interface {
	ObserveRequest(kind string, d time.Duration, err error)
}

// Fetcher is bound to one egress identity and must not be shared between
// goroutines; each worker owns one.
type Fetcher struct {
	cfg       *config.Config
	identity  proxy.Identity
	collector *colly.Collector
	limiter   *rate.Limiter
	observer  Observer
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithLimiter shares a request-rate limiter across fetchers.
func WithLimiter(l *rate.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithObserver reports request durations and outcomes.
func WithObserver(o Observer) Option {
	return func(f *Fetcher) { f.observer = o }
}

// WithTransport replaces the identity transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.collector.WithTransport(rt) }
}

// New builds a fetcher that egresses through id.
func New(cfg *config.Config, id proxy.Identity, opts ...Option) *Fetcher {
	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(id.Transport(cfg.Timeout))

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put("status", r.StatusCode)
		r.Ctx.Put("body", r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		r.Ctx.Put("status", r.StatusCode)
		r.Ctx.Put("body", r.Body)
	})

	f := &Fetcher{cfg: cfg, identity: id, collector: c}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Identity names the egress path of this fetcher.
func (f *Fetcher) Identity() string {
	return f.identity.String()
}

// FetchFirstPage loads the region's HTML search page and decodes the page of
// stations embedded in it.
func (f *Fetcher) FetchFirstPage(ctx context.Context, region models.Region, sess *session.Session) (*models.Page, error) {
	hdr := http.Header{}
	hdr.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	hdr.Set("Accept-Language", "en-US,en;q=0.9")

	body, err := f.do(ctx, KindFirstPage, sess, http.MethodGet, session.SearchURL(f.cfg, string(region)), nil, hdr)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ErrMalformed{Err: fmt.Errorf("parse html: %w", err)}
	}
	raw, err := parser.FindEmbeddedState(doc, f.cfg.StateMarker)
	if err != nil {
		return nil, ErrMalformed{Err: err}
	}
	page, err := parser.PageFromState(raw)
	if err != nil {
		return nil, ErrMalformed{Err: err}
	}
	return page, nil
}

type apiRequest struct {
	OperationName string       `json:"operationName"`
	Variables     apiVariables `json:"variables"`
	Query         string       `json:"query"`
}

type apiVariables struct {
	Fuel   int    `json:"fuel"`
	Lang   string `json:"lang"`
	Search string `json:"search"`
	Cursor string `json:"cursor,omitempty"`
}

// FetchNextPage requests the page after cursor from the paged API.
func (f *Fetcher) FetchNextPage(ctx context.Context, region models.Region, sess *session.Session, cursor string) (*models.Page, error) {
	payload, err := json.Marshal(apiRequest{
		OperationName: f.cfg.OperationName,
		Variables: apiVariables{
			Fuel:   f.cfg.FuelType,
			Lang:   f.cfg.Language,
			Search: string(region),
			Cursor: cursor,
		},
		Query: stationsQuery,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	hdr := http.Header{}
	hdr.Set("Accept", "*/*")
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Apollo-Require-Preflight", "true")
	hdr.Set("Origin", f.cfg.BaseURL)
	hdr.Set("Referer", session.SearchURL(f.cfg, string(region)))
	if sess != nil {
		hdr.Set(f.cfg.TokenHeader, sess.Token)
	}

	body, err := f.do(ctx, KindNextPage, sess, http.MethodPost, f.cfg.BaseURL+f.cfg.GraphQLPath, bytes.NewReader(payload), hdr)
	if err != nil {
		return nil, err
	}
	page, err := parser.PageFromResponse(body)
	if err != nil {
		return nil, ErrMalformed{Err: err}
	}
	return page, nil
}

func (f *Fetcher) do(ctx context.Context, kind string, sess *session.Session, method, target string, body io.Reader, hdr http.Header) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	if sess != nil && sess.Jar != nil {
		f.collector.SetCookieJar(sess.Jar)
	}

	cctx := colly.NewContext()
	start := time.Now()
	err := f.collector.Request(method, target, body, cctx, hdr)
	status, _ := cctx.GetAny("status").(int)
	data, _ := cctx.GetAny("body").([]byte)

	if err == nil && status != http.StatusOK {
		err = fmt.Errorf("http status %d", status)
	}
	if err != nil {
		err = classifyError(err, status)
	}
	if f.observer != nil {
		f.observer.ObserveRequest(kind, time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return data, nil
}
