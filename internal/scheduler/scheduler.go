// Package scheduler runs periodic verifications of outstanding patronage intents.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jp-673/isktreon/internal/app"
)

const timeoutDefault = time.Minute

var ErrAlreadyRunning = errors.New("scheduler already running")

// Credentials provides the credentials of the authenticated character.
type Credentials interface {
	Credentials() (int32, string, error)
}

// Rescanner verifies outstanding patronage intents.
type Rescanner interface {
	HasOutstanding() bool
	RescanAll(ctx context.Context) ([]app.VerificationResult, error)
}

// Scheduler periodically verifies all outstanding intents
// while a character is authenticated.
type Scheduler struct {
	auth      Credentials
	cron      *cron.Cron
	isRunning atomic.Bool
	patronage Rescanner
	spec      string
	timeout   time.Duration
}

type Params struct {
	Auth      Credentials
	Patronage Rescanner
	Spec      string // cron spec, e.g. "@every 5m"
	// optional
	Timeout time.Duration // limit for one run
}

// New returns a new scheduler.
func New(arg Params) *Scheduler {
	s := &Scheduler{
		auth:      arg.Auth,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		patronage: arg.Patronage,
		spec:      arg.Spec,
		timeout:   arg.Timeout,
	}
	if s.timeout <= 0 {
		s.timeout = timeoutDefault
	}
	return s
}

// Start starts the scheduler in the background.
func (s *Scheduler) Start() error {
	if !s.isRunning.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	_, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			slog.Warn("Scheduled verification failed", "error", err)
		}
	})
	if err != nil {
		s.isRunning.Store(false)
		return fmt.Errorf("scheduler: %w", err)
	}
	s.cron.Start()
	slog.Info("Scheduler started", "spec", s.spec)
	return nil
}

// Stop stops the scheduler and waits for a running job to complete.
func (s *Scheduler) Stop() {
	if !s.isRunning.CompareAndSwap(true, false) {
		return
	}
	<-s.cron.Stop().Done()
	slog.Info("Scheduler stopped")
}

// RunOnce verifies all outstanding intents once and reports whether it did.
// Runs are skipped when there is nothing to verify or no character is authenticated.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	if !s.patronage.HasOutstanding() {
		return false, nil
	}
	if _, _, err := s.auth.Credentials(); err != nil {
		if errors.Is(err, app.ErrNotAuthenticated) {
			slog.Debug("Skipping scheduled verification", "reason", err)
			return false, nil
		}
		return false, err
	}
	results, err := s.patronage.RescanAll(ctx)
	if err != nil {
		return true, err
	}
	var confirmed int
	for _, r := range results {
		if r.Status == app.Confirmed {
			confirmed++
		}
	}
	slog.Info("Scheduled verification completed", "intents", len(results), "confirmed", confirmed)
	return true, nil
}
