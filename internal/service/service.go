package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lgaroche/stakemon/internal/alerting"
	"github.com/lgaroche/stakemon/internal/monitor"
	"github.com/lgaroche/stakemon/internal/scheduler"
	"github.com/lgaroche/stakemon/internal/storage"
)

// ErrCycleInProgress reports that another process holds the cycle lock.
var ErrCycleInProgress = errors.New("cycle in progress elsewhere")

// Cycle is the monitoring step driven on every tick.
type Cycle interface {
	RunWithStats(ctx context.Context) ([]monitor.Alert, monitor.CycleStats, error)
}

// Options carry the service knobs that do not belong to a collaborator.
type Options struct {
	AlertsEnabled bool
	CycleTimeout  time.Duration
	LockKey       int64
}

// Service orchestrates monitor cycles and alert delivery.
type Service struct {
	scheduler *scheduler.Scheduler
	cycle     Cycle
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	opts      Options
	logger    zerolog.Logger
}

// New constructs the monitoring service. locker and notifier may be nil.
func New(opts Options, sched *scheduler.Scheduler, cycle Cycle, notifier alerting.Notifier, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		cycle:     cycle,
		notifier:  notifier,
		locker:    locker,
		opts:      opts,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the periodic monitoring loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick runs one guarded cycle and dispatches its alerts.
func (s *Service) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	alerts, _, err := s.RunOnce(ctx, at)
	if err != nil {
		return err
	}
	if s.opts.AlertsEnabled {
		s.Dispatch(ctx, alerts, at)
	}
	return nil
}

// CheckOnce runs one guarded cycle without dispatching.
// It returns ErrCycleInProgress, without running the cycle, when the lock is held elsewhere.
func (s *Service) CheckOnce(ctx context.Context, at time.Time) ([]monitor.Alert, monitor.CycleStats, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, monitor.CycleStats{}, err
	}
	if !proceed {
		return nil, monitor.CycleStats{}, ErrCycleInProgress
	}
	if unlock != nil {
		defer unlock()
	}
	return s.RunOnce(ctx, at)
}

// RunOnce executes a cycle without locking or dispatching.
func (s *Service) RunOnce(ctx context.Context, at time.Time) ([]monitor.Alert, monitor.CycleStats, error) {
	if s.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CycleTimeout)
		defer cancel()
	}

	alerts, stats, err := s.cycle.RunWithStats(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("monitor cycle: %w", err)
	}
	s.logger.Info().Time("at", at).Int("alerts", len(alerts)).Int("dropped", stats.Dropped).Msg("cycle finished")
	return alerts, stats, nil
}

// Dispatch delivers every alert; failures are logged and do not stop the others.
// It returns the number of alerts delivered on every channel.
func (s *Service) Dispatch(ctx context.Context, alerts []monitor.Alert, at time.Time) int {
	if s.notifier == nil {
		for _, alert := range alerts {
			s.logger.Warn().Uint64("owner", alert.Account.OwnerID).Str("alert", alert.Message.String()).Msg("no notifier configured; alert not delivered")
		}
		return 0
	}

	delivered := 0
	for _, alert := range alerts {
		note := NotificationFor(alert, at)
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).
				Uint64("owner", note.OwnerID).
				Uint64("validator", note.ValidatorIndex).
				Msg("failed to dispatch alert")
			continue
		}
		delivered++
	}
	return delivered
}

// NotificationFor addresses alert to its owner.
func NotificationFor(alert monitor.Alert, at time.Time) alerting.Notification {
	return alerting.Notification{
		OwnerID:        alert.Account.OwnerID,
		ValidatorIndex: alert.Message.ValidatorIndex,
		Kind:           string(alert.Message.Kind),
		Amount:         alert.Message.Amount,
		Message:        alert.Message.String(),
		DetectedAt:     at.UTC(),
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
