package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval is used by Watch when no interval is given.
const DefaultInterval = 30 * time.Second

// Refresher recomputes the score of one wallet.
type Refresher interface {
	Refresh(ctx context.Context, address string) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, address string) error

func (f RefresherFunc) Refresh(ctx context.Context, address string) error { return f(ctx, address) }

// Scheduler runs periodic score refreshes and maintenance jobs on a cron.
type Scheduler struct {
	cron      *cron.Cron
	ctx       context.Context
	refresher Refresher
	logger    *slog.Logger

	mu      sync.Mutex
	watches map[string]*Handle
}

// New creates a scheduler. Jobs run with ctx; a job still running when its
// next tick arrives is skipped.
func New(ctx context.Context, refresher Refresher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:       ctx,
		refresher: refresher,
		logger:    logger,
		watches:   make(map[string]*Handle),
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("refresh scheduler started")
}

// Stop stops the scheduler and waits for running jobs, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running jobs: %w", ctx.Err())
	}
}

// Handle cancels one watch.
type Handle struct {
	s       *Scheduler
	id      cron.EntryID
	address string
	every   time.Duration
	once    sync.Once
}

// Address is the watched wallet.
func (h *Handle) Address() string { return h.address }

// Interval is the refresh period.
func (h *Handle) Interval() time.Duration { return h.every }

// Stop removes the watch. Calling it more than once is harmless.
func (h *Handle) Stop() {
	h.once.Do(func() {
		h.s.cron.Remove(h.id)
		h.s.mu.Lock()
		if h.s.watches[h.address] == h {
			delete(h.s.watches, h.address)
		}
		h.s.mu.Unlock()
	})
}

// Watch refreshes address every interval until the returned handle is
// stopped. A new watch on the same address replaces the old one.
func (s *Scheduler) Watch(address string, every time.Duration) (*Handle, error) {
	if every <= 0 {
		every = DefaultInterval
	}
	if every < time.Second {
		return nil, errors.New("refresh interval must be at least one second")
	}

	h := &Handle{s: s, address: address, every: every}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", every), func() {
		if err := s.refresher.Refresh(s.ctx, address); err != nil {
			s.logger.Warn("auto-refresh failed", slog.String("wallet", address), slog.Any("error", err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("register watch: %w", err)
	}
	h.id = id

	s.mu.Lock()
	prev := s.watches[address]
	s.watches[address] = h
	s.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	s.logger.Info("auto-refresh started", slog.String("wallet", address), slog.Duration("interval", every))
	return h, nil
}

// Unwatch stops the watch on address and reports whether one existed.
func (s *Scheduler) Unwatch(address string) bool {
	s.mu.Lock()
	h, ok := s.watches[address]
	s.mu.Unlock()
	if !ok {
		return false
	}
	h.Stop()
	return true
}

// Watches lists the watched addresses.
func (s *Scheduler) Watches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.watches))
	for addr := range s.watches {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Schedule registers a named maintenance job on a cron spec.
func (s *Scheduler) Schedule(spec, name string, fn func(ctx context.Context) error) error {
	if _, err := s.cron.AddFunc(spec, func() {
		if err := fn(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", slog.String("job", name), slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	return nil
}
