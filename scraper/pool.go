package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aluiziolira/go-scrape-stations/models"
)

// ReasonWrite marks a region whose results could not be persisted.
const ReasonWrite = "write_error"

// Collector collects a single region.
type Collector interface {
	Collect(stop context.Context, region models.Region) *models.CollectionResult
	Identity() string
}

// Sink persists a finished region: its stations first, then its ledger entry.
type Sink interface {
	Commit(res *models.CollectionResult) error
}

// Pool runs a fixed number of workers over a shared region queue.
type Pool struct {
	workers int
	factory func(worker int) Collector
	sink    Sink
	stats   *Stats
	metrics *Metrics
}

// NewPool builds a pool. factory is called once per worker so each worker
// owns its collector and, through it, its egress identity.
func NewPool(workers int, factory func(worker int) Collector, sink Sink, stats *Stats, metrics *Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		factory: factory,
		sink:    sink,
		stats:   stats,
		metrics: metrics,
	}
}

// Run drains queue. When ctx is done no new region is dispatched; regions in
// flight finish and are committed. A sink failure stops dispatch and is
// returned.
func (p *Pool) Run(ctx context.Context, queue []models.Region) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan models.Region)
	go func() {
		defer close(jobs)
		for _, region := range queue {
			if runCtx.Err() != nil {
				return
			}
			select {
			case <-runCtx.Done():
				return
			case jobs <- region:
			}
		}
	}()

	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		sinkErr error
	)
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			collector := p.factory(worker)

			for region := range jobs {
				// A region handed over as the run stops stays queued for the next run.
				if runCtx.Err() != nil {
					continue
				}
				p.metrics.workerStarted()
				res := collector.Collect(runCtx, region)
				p.metrics.workerDone()

				if err := p.sink.Commit(res); err != nil {
					errMu.Lock()
					if sinkErr == nil {
						sinkErr = fmt.Errorf("commit region %s: %w", region, err)
					}
					errMu.Unlock()
					cancel()

					res.Status = models.StatusFailed
					res.Reason = ReasonWrite
					res.Err = err
					res.Stations = nil
				}

				p.stats.Record(res)
				p.metrics.ObserveResult(res)
				slog.Debug("region finished",
					slog.Int("worker", worker),
				slog.String("identity", collector.Identity()),
					slog.String("region", string(res.Region)),
					slog.String("status", string(res.Status)),
					slog.String("reason", res.Reason),
					slog.Int("stations", len(res.Stations)),
					slog.Int("pages", res.Pages),
					slog.Duration("took", res.Duration),
				)
			}
		}(i)
	}

	wg.Wait()
	return sinkErr
}
