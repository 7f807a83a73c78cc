package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ByteSurgeonAmos/pesaTalk/internal/domain"
)

// MemoryStore is an in-memory TransactionStore with the same exclusive-access
// semantics as the database-backed one: Mutate holds a per-record lock for
// the whole read-modify-write. Used by tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*domain.Transaction
	locks   map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*domain.Transaction),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) Create(_ context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.records {
		if existing.IdempotencyKey == t.IdempotencyKey {
			return domain.ErrDuplicateRequest
		}
	}
	clone := *t
	s.records[t.ID] = &clone
	s.locks[t.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.records[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	clone := *t
	return &clone, nil
}

func (s *MemoryStore) HasActiveByIdempotencyKey(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.records {
		if t.IdempotencyKey == key && !t.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) RecentBySender(_ context.Context, senderID string, limit int) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Transaction
	for _, t := range s.records {
		if t.SenderID == senderID {
			clone := *t
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindExpiredPending(_ context.Context, now time.Time) ([]string, error) {
	return s.findIDs(func(t *domain.Transaction) bool {
		return t.Status == domain.StatusPendingConfirmation && !t.ConfirmationExpiresAt.After(now)
	})
}

func (s *MemoryStore) FindStalePushed(_ context.Context, cutoff time.Time) ([]string, error) {
	return s.findIDs(func(t *domain.Transaction) bool {
		return t.Status == domain.StatusPushed && t.PushedAt != nil && !t.PushedAt.After(cutoff)
	})
}

func (s *MemoryStore) findIDs(match func(*domain.Transaction) bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, t := range s.records {
		if match(t) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Mutate(_ context.Context, id string, fn MutateFunc) (*domain.Transaction, error) {
	return s.mutate(id, fn)
}

func (s *MemoryStore) MutateByCheckoutID(_ context.Context, checkoutRequestID string, fn MutateFunc) (*domain.Transaction, error) {
	s.mu.Lock()
	var id string
	for recordID, t := range s.records {
		if t.CheckoutRequestID == checkoutRequestID {
			id = recordID
			break
		}
	}
	s.mu.Unlock()

	if id == "" {
		return nil, domain.ErrTransactionNotFound
	}
	return s.mutate(id, fn)
}

func (s *MemoryStore) mutate(id string, fn MutateFunc) (*domain.Transaction, error) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	current := *s.records[id]
	s.mu.Unlock()

	if err := fn(&current); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.records[id] = &current
	s.mu.Unlock()

	clone := current
	return &clone, nil
}
