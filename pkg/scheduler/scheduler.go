// Package scheduler drives the pending sync pass on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/services/integration"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

const (
	DefaultPollInterval = 60 * time.Second
	DefaultLockTTL      = 10 * time.Minute

	// LockKey guards a cycle so only one replica runs it at a time.
	LockKey = "scheduler:pending-sync"
)

// PendingSyncer runs one pending sync pass. A nil tenant spans every tenant.
type PendingSyncer interface {
	ProcessPendingSync(ctx context.Context, tenantID *uuid.UUID) (integration.PendingSyncReport, error)
}

type Leaser interface {
	Lease(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

type Config struct {
	PollInterval time.Duration
	// LockTTL should outlast the slowest expected cycle.
	LockTTL time.Duration
}

type Scheduler struct {
	syncer PendingSyncer
	leaser Leaser
	config Config
	logger ectologger.Logger

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler builds a scheduler. leaser may be nil for single-replica
// deployments.
func NewScheduler(syncer PendingSyncer, leaser Leaser, config Config, logger ectologger.Logger) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}

	return &Scheduler{
		syncer:   syncer,
		leaser:   leaser,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start runs a cycle immediately and then once per poll interval until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s", s.config.PollInterval)

	// cycles outlive the caller's context; Stop is the only way to end them
	go s.pollLoop(context.WithoutCancel(ctx))
	return nil
}

// Stop signals the loop and waits for the in-flight cycle to finish. An
// in-flight cycle is never aborted; ctx only bounds how long Stop waits.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")
	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle runs one pending sync pass if this replica wins the cycle lock.
func (s *Scheduler) RunCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.RunCycle")
	defer span.End()

	if s.leaser != nil {
		release, err := s.leaser.Lease(ctx, LockKey, s.config.LockTTL)
		if errors.Is(err, redis.ErrLockNotAcquired) {
			s.logger.WithContext(ctx).Debug("Pending sync cycle held by another replica")
			metrics.RecordSchedulerCycle("skipped")
			return
		}
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to acquire scheduler lock")
			metrics.RecordSchedulerCycle("error")
			return
		}
		defer func() {
			if err := release(ctx); err != nil {
				s.logger.WithContext(ctx).WithError(err).Warn("Failed to release scheduler lock")
			}
		}()
	}

	start := time.Now()
	report, err := s.syncer.ProcessPendingSync(ctx, nil)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Pending sync cycle failed")
		metrics.RecordSchedulerCycle("error")
		return
	}

	metrics.RecordSchedulerCycle("completed")
	s.logger.WithContext(ctx).Infof("Pending sync cycle completed: processed=%d succeeded=%d failed=%d duration=%s",
		report.Processed, report.Succeeded, report.Failed, time.Since(start))
}
