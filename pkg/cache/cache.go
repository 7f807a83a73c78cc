package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another process holds the requested lock.
var ErrLockHeld = errors.New("lock already held by another process")

// Service wraps the Redis client used for distributed locks and
// daily transaction counters.
type Service struct {
	client *redis.Client
	logger *zap.Logger
}

func NewService(addr, password string, db int, logger *zap.Logger) (*Service, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     50,
		MinIdleConns: 5,
		PoolTimeout:  4 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", addr))

	return &Service{client: client, logger: logger}, nil
}

// ===============================
// Distributed Locking
// ===============================

// Lock is a Redis-backed lock held by a single process at a time.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// AcquireLock attempts to take the named lock. ErrLockHeld means another
// instance got there first.
func (s *Service) AcquireLock(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	key := fmt.Sprintf("lock:%s", name)
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	s.logger.Debug("lock acquired",
		zap.String("name", name),
		zap.Duration("ttl", ttl),
	)

	return &Lock{client: s.client, key: key, token: token}, nil
}

// Release deletes the lock only if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	result, err := l.client.Eval(ctx, script, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("lock not owned by this token (expired or stolen)")
	}
	return nil
}

// ===============================
// Daily Counters
// ===============================

func dailyKey(userID string, day time.Time) string {
	return fmt.Sprintf("txncount:%s:%s", userID, day.UTC().Format("2006-01-02"))
}

// DailyCount returns how many transactions the user has started today.
func (s *Service) DailyCount(ctx context.Context, userID string, now time.Time) (int, error) {
	count, err := s.client.Get(ctx, dailyKey(userID, now)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("daily count: %w", err)
	}
	return count, nil
}

// IncrDailyCount bumps the user's per-day counter and sets the expiry on
// first increment so the key dies shortly after midnight UTC.
func (s *Service) IncrDailyCount(ctx context.Context, userID string, now time.Time) (int, error) {
	key := dailyKey(userID, now)

	script := `
		local current = redis.call('incr', KEYS[1])
		if current == 1 then
			redis.call('expire', KEYS[1], ARGV[1])
		end
		return current
	`

	ttl := int((25 * time.Hour).Seconds())
	count, err := s.client.Eval(ctx, script, []string{key}, ttl).Int()
	if err != nil {
		return 0, fmt.Errorf("incr daily count: %w", err)
	}
	return count, nil
}

// ===============================
// Health Check
// ===============================

func (s *Service) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	latency := time.Since(start)
	if latency > 100*time.Millisecond {
		s.logger.Warn("redis high latency", zap.Duration("latency", latency))
	}

	return nil
}

func (s *Service) Close() error {
	return s.client.Close()
}
