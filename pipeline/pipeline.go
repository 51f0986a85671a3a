// Package pipeline persists collected regions: station rows first, then the
// ledger entry that lets a later run skip the region.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-stations/models"
)

var (
	// ErrPipelineClosed is returned when Commit is called after shutdown or
	// after a write failure.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

const (
	defaultSeenCacheSize = 200_000
	defaultMirrorTimeout = 30 * time.Second
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(stations []models.Station) error
	Validate() error
}

// Ledger records the terminal status of a region.
type Ledger interface {
	Record(region models.Region, status models.Status) error
}

// Mirror receives a copy of every written station. Mirror failures are logged
// and never fail a commit.
type Mirror interface {
	Upsert(ctx context.Context, stations []models.Station) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMirror copies written stations to m.
func WithMirror(m Mirror) Option {
	return func(p *Pipeline) { p.mirror = m }
}

// WithSeenCacheSize bounds the station-id cache used to count stations seen
// under more than one region.
func WithSeenCacheSize(n int) Option {
	return func(p *Pipeline) { p.seenSize = n }
}

// Pipeline serialises region commits. It implements scraper.Sink.
type Pipeline struct {
	writer OutputWriter
	ledger Ledger
	mirror Mirror

	mirrorTimeout time.Duration
	seenSize      int
	seen          *lru.Cache[string, models.Region]

	metrics metrics

	mu     sync.Mutex // serialises commits; guards closed/err
	closed bool
	err    error
}

// NewPipeline builds a pipeline writing rows through writer and statuses
// through ledger.
func NewPipeline(writer OutputWriter, ledger Ledger, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		writer:        writer,
		ledger:        ledger,
		mirrorTimeout: defaultMirrorTimeout,
		seenSize:      defaultSeenCacheSize,
		metrics:       newMetrics(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.seenSize <= 0 {
		p.seenSize = defaultSeenCacheSize
	}
	seen, err := lru.New[string, models.Region](p.seenSize)
	if err != nil {
		return nil, fmt.Errorf("create seen cache: %w", err)
	}
	p.seen = seen
	return p, nil
}

// Commit persists one region result. Rows are written before the ledger entry
// so a crash in between re-collects the region instead of losing it. A write
// failure marks the region failed, closes the pipeline and is returned.
func (p *Pipeline) Commit(res *models.CollectionResult) error {
	if res == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		if p.err != nil {
			return p.err
		}
		return ErrPipelineClosed
	}

	if len(res.Stations) > 0 {
		if err := p.writer.Write(res.Stations); err != nil {
			p.fail(fmt.Errorf("write region %s: %w", res.Region, err))
			if lerr := p.ledger.Record(res.Region, models.StatusFailed); lerr != nil {
				slog.Error("ledger record after write failure",
					slog.String("region", string(res.Region)),
					slog.String("error", lerr.Error()),
				)
			}
			return p.err
		}
		p.countOverlaps(res)
		p.mirrorStations(res)
	}

	if err := p.ledger.Record(res.Region, res.Status); err != nil {
		p.fail(fmt.Errorf("record region %s: %w", res.Region, err))
		return p.err
	}

	p.metrics.addCommitted(res)
	return nil
}

// Close prevents more commits and returns the first failure, if any.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.err
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Validate checks that the output has content.
func (p *Pipeline) Validate() error {
	return p.writer.Validate()
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic commit logs until ctx is done.
func (p *Pipeline) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m := p.GetMetrics()
				slog.Info("pipeline",
					slog.Int64("committed_regions", m["committed_regions"].(int64)),
					slog.Int64("written_stations", m["written_stations"].(int64)),
					slog.Int64("cross_region_duplicates", m["cross_region_duplicates"].(int64)),
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) countOverlaps(res *models.CollectionResult) {
	for i := range res.Stations {
		id := res.Stations[i].ID
		if prev, ok := p.seen.Get(id); ok && prev != res.Region {
			p.metrics.addOverlap()
		}
		p.seen.Add(id, res.Region)
	}
}

func (p *Pipeline) mirrorStations(res *models.CollectionResult) {
	if p.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.mirrorTimeout)
	defer cancel()
	if err := p.mirror.Upsert(ctx, res.Stations); err != nil {
		p.metrics.addMirrorError()
		slog.Warn("mirror upsert failed",
			slog.String("region", string(res.Region)),
			slog.Int("stations", len(res.Stations)),
			slog.String("error", err.Error()),
		)
	}
}

// fail records the first error and closes the pipeline. Callers hold p.mu.
func (p *Pipeline) fail(err error) {
	if p.err == nil {
		p.err = err
	}
	p.closed = true
}

type metrics struct {
	mu         sync.Mutex
	committed  int64
	written    int64
	overlaps   int64
	mirrorErrs int64
	byStatus   map[models.Status]int
}

func newMetrics() metrics {
	return metrics{
		byStatus: make(map[models.Status]int),
	}
}

func (m *metrics) addCommitted(res *models.CollectionResult) {
	m.mu.Lock()
	m.committed++
	m.written += int64(len(res.Stations))
	m.byStatus[res.Status]++
	m.mu.Unlock()
}

func (m *metrics) addOverlap() {
	m.mu.Lock()
	m.overlaps++
	m.mu.Unlock()
}

func (m *metrics) addMirrorError() {
	m.mu.Lock()
	m.mirrorErrs++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	byStatus := make(map[string]int, len(m.byStatus))
	for k, v := range m.byStatus {
		byStatus[string(k)] = v
	}

	return map[string]interface{}{
		"committed_regions":       m.committed,
		"written_stations":        m.written,
		"cross_region_duplicates": m.overlaps,
		"mirror_errors":           m.mirrorErrs,
		"regions_by_status":       byStatus,
	}
}
