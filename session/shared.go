package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/sync/singleflight"

	"github.com/aluiziolira/go-scrape-stations/config"
	"github.com/aluiziolira/go-scrape-stations/proxy"
)

// Acquirer establishes a new session through an egress identity.
type Acquirer interface {
	Acquire(ctx context.Context, id proxy.Identity) (*Session, error)
}

// Holder is the single session shared by every worker of a run.
//
// Readers never wait on each other. When a session goes stale or is rejected,
// concurrent refresh requests collapse into one acquisition and every caller
// receives its result.
type Holder struct {
	acq      Acquirer
	ids      []proxy.Identity
	maxAge   time.Duration
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
	cooldown time.Duration
	now      func() time.Time

	mu          sync.RWMutex
	current     *Session
	nextID      int
	refreshes   int64
	retryAfter  time.Time
	onRefreshFn func(*Session)

	group singleflight.Group
}

// NewHolder builds a holder that acquires through acq, rotating over ids.
func NewHolder(acq Acquirer, ids []proxy.Identity, cfg *config.Config) *Holder {
	attempts := cfg.SessionAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Holder{
		acq:      acq,
		ids:      ids,
		maxAge:   cfg.SessionMaxAge,
		attempts: uint(attempts),
		delay:    cfg.RetryBackoffMin,
		maxDelay: cfg.RetryBackoffMax,
		cooldown: time.Minute,
		now:      time.Now,
	}
}

// OnRefresh registers fn to be called after every successful refresh.
func (h *Holder) OnRefresh(fn func(*Session)) {
	h.mu.Lock()
	h.onRefreshFn = fn
	h.mu.Unlock()
}

// Init establishes the first session of the run. Failure is fatal for the run.
func (h *Holder) Init(ctx context.Context) (*Session, error) {
	var s *Session
	err := retry.Do(
		func() error {
			var err error
			s, err = h.acquire(ctx)
			return err
		},
		retry.Attempts(h.attempts),
		retry.Delay(h.delay),
		retry.MaxDelay(h.maxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("session acquisition failed, retrying",
				slog.Uint64("attempt", uint64(n+1)),
				slog.Any("error", err),
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("establish session after %d attempts: %w", h.attempts, err)
	}

	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
	slog.Info("session established",
		slog.String("session", s.ID),
		slog.String("identity", s.Identity),
	)
	return s, nil
}

// Current returns the live session, refreshing it first when it has aged out.
// A failed scheduled refresh keeps the old session in service.
func (h *Holder) Current(ctx context.Context) (*Session, error) {
	h.mu.RLock()
	s := h.current
	retryAfter := h.retryAfter
	h.mu.RUnlock()

	now := h.now()
	if !IsStale(s, h.maxAge, now) {
		return s, nil
	}
	if s != nil && now.Before(retryAfter) {
		return s, nil
	}

	fresh, err := h.Refresh(ctx, s)
	if err != nil {
		if s == nil {
			return nil, err
		}
		h.mu.Lock()
		h.retryAfter = now.Add(h.cooldown)
		h.mu.Unlock()
		slog.Warn("scheduled session refresh failed, keeping current session",
			slog.String("session", s.ID),
			slog.Any("error", err),
		)
		return s, nil
	}
	return fresh, nil
}

// Refresh replaces stale with a new session. If stale was already replaced by
// another caller, the replacement is returned without a new acquisition.
func (h *Holder) Refresh(ctx context.Context, stale *Session) (*Session, error) {
	if s, ok := h.replaced(stale); ok {
		return s, nil
	}

	v, err, _ := h.group.Do("refresh", func() (interface{}, error) {
		if s, ok := h.replaced(stale); ok {
			return s, nil
		}
		s, err := h.acquire(ctx)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		h.current = s
		h.refreshes++
		h.retryAfter = time.Time{}
		fn := h.onRefreshFn
		h.mu.Unlock()

		slog.Info("session refreshed",
			slog.String("session", s.ID),
			slog.String("identity", s.Identity),
		)
		if fn != nil {
			fn(s)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Refreshes returns how many times the session has been replaced.
func (h *Holder) Refreshes() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.refreshes
}

func (h *Holder) replaced(stale *Session) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current != nil && stale != nil && h.current.ID != stale.ID {
		return h.current, true
	}
	return nil, false
}

func (h *Holder) acquire(ctx context.Context) (*Session, error) {
	h.mu.Lock()
	id := proxy.Pick(h.ids, h.nextID)
	h.nextID++
	h.mu.Unlock()
	return h.acq.Acquire(ctx, id)
}
