package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-stations/models"
)

// Stats aggregates live progress of a run. It is shared by all workers.
type Stats struct {
	mu             sync.Mutex
	start          time.Time
	queued         int
	alreadyDone    int
	completed      int
	partial        int
	failed         int
	stations       int64
	pages          int64
	retries        int64
	failedByReason map[string]int

	now func() time.Time
}

// Snapshot is a point-in-time copy of Stats with derived rates.
type Snapshot struct {
	Queued           int
	AlreadyDone      int
	Completed        int
	Partial          int
	Failed           int
	Stations         int64
	Pages            int64
	Retries          int64
	FailedByReason   map[string]int
	Elapsed          time.Duration
	RegionsPerSecond float64
	Percent          float64
	ETA              time.Duration
}

// NewStats starts tracking a run of queued regions, alreadyDone of which were
// finished by earlier runs.
func NewStats(queued, alreadyDone int) *Stats {
	return &Stats{
		start:          time.Now(),
		queued:         queued,
		alreadyDone:    alreadyDone,
		failedByReason: make(map[string]int),
		now:            time.Now,
	}
}

// Record accounts a finished region.
func (s *Stats) Record(res *models.CollectionResult) {
	if res == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch res.Status {
	case models.StatusComplete:
		s.completed++
	case models.StatusPartial:
		s.partial++
	case models.StatusFailed:
		s.failed++
		s.failedByReason[res.Reason]++
	}
	s.stations += int64(len(res.Stations))
	s.pages += int64(res.Pages)
	s.retries += int64(res.Retries)
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	reasons := make(map[string]int, len(s.failedByReason))
	for k, v := range s.failedByReason {
		reasons[k] = v
	}
	snap := Snapshot{
		Queued:         s.queued,
		AlreadyDone:    s.alreadyDone,
		Completed:      s.completed,
		Partial:        s.partial,
		Failed:         s.failed,
		Stations:       s.stations,
		Pages:          s.pages,
		Retries:        s.retries,
		FailedByReason: reasons,
		Elapsed:        s.now().Sub(s.start),
	}

	done := s.completed + s.partial + s.failed
	if grand := s.alreadyDone + s.queued; grand > 0 {
		snap.Percent = float64(s.alreadyDone+done) * 100 / float64(grand)
	}
	if secs := snap.Elapsed.Seconds(); secs > 0 && done > 0 {
		snap.RegionsPerSecond = float64(done) / secs
		remaining := s.queued - done
		if remaining > 0 {
			snap.ETA = time.Duration(float64(remaining) / snap.RegionsPerSecond * float64(time.Second))
		}
	}
	return snap
}

// Summary converts the counters into the run summary.
func (s *Stats) Summary(runID string) models.RunSummary {
	snap := s.Snapshot()
	return models.RunSummary{
		RunID:          runID,
		StartTime:      s.start,
		EndTime:        s.start.Add(snap.Elapsed),
		Queued:         snap.Queued,
		AlreadyDone:    snap.AlreadyDone,
		Completed:      snap.Completed,
		Partial:        snap.Partial,
		Failed:         snap.Failed,
		Stations:       snap.Stations,
		Pages:          snap.Pages,
		Retries:        snap.Retries,
		FailedByReason: snap.FailedByReason,
	}
}

// StartReporting logs progress every interval until ctx is done.
func (s *Stats) StartReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := s.Snapshot()
				slog.Info("progress",
					slog.Int("completed", snap.Completed),
					slog.Int("partial", snap.Partial),
					slog.Int("failed", snap.Failed),
					slog.Int("queued", snap.Queued),
					slog.Int64("stations", snap.Stations),
					slog.String("percent", formatPercent(snap.Percent)),
					slog.Float64("regions_per_sec", snap.RegionsPerSecond),
					slog.Duration("eta", snap.ETA.Round(time.Second)),
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}
