package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ByteSurgeonAmos/pesaTalk/config"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/notify"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/repository"
	"github.com/ByteSurgeonAmos/pesaTalk/pkg/cache"
)

const (
	jobExpirePending   = "expire_pending"
	jobFailStalePushed = "fail_stale_pushed"

	pruneInterval = 10 * time.Minute
	pruneMaxIdle  = 30 * time.Minute
)

// Releaser releases a held job lock.
type Releaser interface {
	Release(ctx context.Context) error
}

// Locker hands out named locks so each sweep runs on one instance at a
// time across the deployment.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (Releaser, error)
}

// CacheLocker adapts the Redis cache service to the Locker interface.
type CacheLocker struct {
	Service *cache.Service
}

func (c CacheLocker) AcquireLock(ctx context.Context, name string, ttl time.Duration) (Releaser, error) {
	lock, err := c.Service.AcquireLock(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// Pruner drops stale in-memory limiter state.
type Pruner interface {
	Prune(now time.Time, maxIdle time.Duration)
}

// Scheduler runs the background sweeps that settle transactions nobody
// confirmed and pushes nobody answered. Each record is settled under
// its own row lock so a sweep never races a live confirm or callback.
type Scheduler struct {
	store    repository.TransactionStore
	locker   Locker
	notifier notify.Notifier
	pruner   Pruner
	cfg      config.WindowsConfig
	logger   *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewScheduler(
	store repository.TransactionStore,
	locker Locker,
	notifier notify.Notifier,
	pruner Pruner,
	cfg config.WindowsConfig,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		store:    store,
		locker:   locker,
		notifier: notifier,
		pruner:   pruner,
		cfg:      cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.loop(s.cfg.ExpireInterval, func() { s.runGuarded(jobExpirePending, s.ExpirePending) })
	s.loop(s.cfg.StaleInterval, func() { s.runGuarded(jobFailStalePushed, s.FailStalePushed) })
	if s.pruner != nil {
		s.loop(pruneInterval, func() { s.pruner.Prune(time.Now().UTC(), pruneMaxIdle) })
	}
	s.logger.Info("reconciliation scheduler started",
		zap.Duration("expire_interval", s.cfg.ExpireInterval),
		zap.Duration("stale_interval", s.cfg.StaleInterval))
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("reconciliation scheduler stopped")
}

func (s *Scheduler) loop(interval time.Duration, run func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// runGuarded takes the job's distributed lock for one tick. Losing the
// lock race means another instance is sweeping and this tick is skipped.
func (s *Scheduler) runGuarded(job string, sweep func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobLockTTL)
	defer cancel()

	lock, err := s.locker.AcquireLock(ctx, job, s.cfg.JobLockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			sweepRuns.WithLabelValues(job, "skipped").Inc()
			s.logger.Debug("sweep lock held elsewhere", zap.String("job", job))
			return
		}
		sweepRuns.WithLabelValues(job, "error").Inc()
		s.logger.Error("sweep lock acquisition failed",
			zap.String("job", job), zap.Error(err))
		return
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			s.logger.Warn("sweep lock release failed",
				zap.String("job", job), zap.Error(err))
		}
	}()

	if err := sweep(ctx); err != nil {
		sweepRuns.WithLabelValues(job, "error").Inc()
		s.logger.Error("sweep failed", zap.String("job", job), zap.Error(err))
		return
	}
	sweepRuns.WithLabelValues(job, "ok").Inc()
}

// ExpirePending settles transactions whose confirmation window has
// passed without an answer.
func (s *Scheduler) ExpirePending(ctx context.Context) error {
	now := time.Now().UTC()
	ids, err := s.store.FindExpiredPending(ctx, now)
	if err != nil {
		return err
	}

	for _, id := range ids {
		var settled bool
		t, err := s.store.Mutate(ctx, id, func(t *domain.Transaction) error {
			// The user may have confirmed or cancelled between the
			// scan and this lock.
			if t.Status != domain.StatusPendingConfirmation || !now.After(t.ConfirmationExpiresAt) {
				return nil
			}
			settled = true
			t.FailureReason = "confirmation window elapsed"
			return t.TransitionTo(domain.StatusExpired)
		})
		if err != nil {
			s.logger.Error("expire sweep record failed",
				zap.String("transaction_id", id), zap.Error(err))
			continue
		}
		if !settled {
			continue
		}

		sweepSettled.WithLabelValues(jobExpirePending).Inc()
		s.logger.Info("transaction expired",
			zap.String("transaction_id", t.ID))
		go s.notify(t, "Your payment request expired without confirmation. Send a new message to try again.")
	}
	return nil
}

// FailStalePushed settles pushes the gateway never answered. The user
// prompt may still be on their phone, so the message hedges.
func (s *Scheduler) FailStalePushed(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleCutoff)
	ids, err := s.store.FindStalePushed(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, id := range ids {
		var settled bool
		t, err := s.store.Mutate(ctx, id, func(t *domain.Transaction) error {
			if t.Status != domain.StatusPushed {
				return nil
			}
			if t.PushedAt == nil || t.PushedAt.After(cutoff) {
				return nil
			}
			settled = true
			t.FailureReason = "no gateway confirmation received"
			return t.TransitionTo(domain.StatusFailed)
		})
		if err != nil {
			s.logger.Error("stale sweep record failed",
				zap.String("transaction_id", id), zap.Error(err))
			continue
		}
		if !settled {
			continue
		}

		sweepSettled.WithLabelValues(jobFailStalePushed).Inc()
		s.logger.Warn("pushed transaction timed out",
			zap.String("transaction_id", t.ID),
			zap.String("checkout_request_id", t.CheckoutRequestID))
		go s.notify(t, "We did not receive confirmation for your payment. If you were charged, please contact support with your M-Pesa message.")
	}
	return nil
}

func (s *Scheduler) notify(t *domain.Transaction, message string) {
	if err := s.notifier.Notify(context.Background(), t.SenderID, message); err != nil {
		s.logger.Warn("sweep notification failed",
			zap.String("transaction_id", t.ID), zap.Error(err))
	}
}
