package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ByteSurgeonAmos/pesaTalk/config"
	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"
)

const (
	messageRetryAfter     = time.Minute
	transactionRetryAfter = time.Hour
)

// DailyCounter tracks transactions started per user per calendar day.
type DailyCounter interface {
	DailyCount(ctx context.Context, userID string, now time.Time) (int, error)
	IncrDailyCount(ctx context.Context, userID string, now time.Time) (int, error)
}

// bucket is a continuously refilled token bucket.
type bucket struct {
	tokens   float64
	capacity float64
	rate     float64 // tokens per second
	last     time.Time
}

func newBucket(capacity int, window time.Duration, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(capacity),
		capacity: float64(capacity),
		rate:     float64(capacity) / window.Seconds(),
		last:     now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.rate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
}

// entry pairs the sustained and burst buckets for one user and class.
type entry struct {
	sustained *bucket
	burst     *bucket
	seen      time.Time
}

// take consumes one token from both buckets, or from neither when
// either is empty. A denial never burns headroom in the other limit.
func (e *entry) take(now time.Time) bool {
	e.sustained.refill(now)
	e.burst.refill(now)
	if e.sustained.tokens < 1 || e.burst.tokens < 1 {
		return false
	}
	e.sustained.tokens--
	e.burst.tokens--
	return true
}

// Limiter enforces per-user message and transaction rates in memory,
// plus the per-day transaction cap in Redis. Bucket state is local to
// each instance; only the daily cap is shared across instances.
type Limiter struct {
	cfg     config.LimitsConfig
	counter DailyCounter

	mu       sync.Mutex
	messages map[string]*entry
	txns     map[string]*entry
}

func NewLimiter(cfg config.LimitsConfig, counter DailyCounter) *Limiter {
	return &Limiter{
		cfg:      cfg,
		counter:  counter,
		messages: make(map[string]*entry),
		txns:     make(map[string]*entry),
	}
}

// AllowMessage consumes one message token for the user. A denial returns
// a RateLimitedError the caller can surface as a retry hint.
func (l *Limiter) AllowMessage(userID string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.messages[userID]
	if !ok {
		e = &entry{
			sustained: newBucket(l.cfg.MessagesPerMinute, time.Minute, now),
			burst:     newBucket(l.cfg.MessageBurst, l.cfg.MessageBurstWindow, now),
		}
		l.messages[userID] = e
	}
	e.seen = now

	if !e.take(now) {
		return &domain.RateLimitedError{RetryAfter: messageRetryAfter}
	}
	return nil
}

// AllowTransaction consumes one transaction token and checks the shared
// daily cap. Both limits use the transaction retry hint since a capped
// user cannot usefully retry within the minute.
func (l *Limiter) AllowTransaction(ctx context.Context, userID string, now time.Time) error {
	l.mu.Lock()
	e, ok := l.txns[userID]
	if !ok {
		e = &entry{
			sustained: newBucket(l.cfg.TransactionsPerMinute, time.Minute, now),
			burst:     newBucket(l.cfg.TransactionBurst, l.cfg.TransactionBurstWindow, now),
		}
		l.txns[userID] = e
	}
	e.seen = now
	allowed := e.take(now)
	l.mu.Unlock()

	if !allowed {
		return &domain.RateLimitedError{RetryAfter: transactionRetryAfter}
	}

	count, err := l.counter.DailyCount(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("daily cap check: %w", err)
	}
	if count >= l.cfg.TransactionsPerDay {
		return &domain.RateLimitedError{RetryAfter: transactionRetryAfter}
	}
	return nil
}

// RecordTransaction bumps the user's daily count after a transaction is
// actually created, so rejected attempts never consume the cap.
func (l *Limiter) RecordTransaction(ctx context.Context, userID string, now time.Time) error {
	_, err := l.counter.IncrDailyCount(ctx, userID, now)
	return err
}

// Prune drops bucket state for users idle longer than maxIdle. Run it
// periodically so the maps do not grow without bound.
func (l *Limiter) Prune(now time.Time, maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-maxIdle)
	for id, e := range l.messages {
		if e.seen.Before(cutoff) {
			delete(l.messages, id)
		}
	}
	for id, e := range l.txns {
		if e.seen.Before(cutoff) {
			delete(l.txns, id)
		}
	}
}
