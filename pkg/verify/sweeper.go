package verify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs ExpireStale every five minutes.
const DefaultSweepSchedule = "@every 5m"

// Sweeper periodically reclaims abandoned requests. Expiry is already enforced
// at validation time; the sweep only keeps stored status honest.
type Sweeper struct {
	cron     *cron.Cron
	sessions *SessionManager
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSweeper schedules ExpireStale on spec (standard cron syntax or @every).
func NewSweeper(sessions *SessionManager, spec string, logger *slog.Logger) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sessions: sessions,
		timeout:  time.Minute,
		logger:   logger,
	}
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.logger.Info("starting expiry sweeper")
	s.cron.Start()
}

// Stop stops the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("expiry sweeper stopped")
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.sessions.ExpireStale(ctx); err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
	}
}
