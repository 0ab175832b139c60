package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	requests      map[string]PaymentRequest
	notifications map[string][]NotificationRecord
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:      make(map[string]PaymentRequest),
		notifications: make(map[string][]NotificationRecord),
	}
}

func (s *MemoryStore) CreatePaymentRequest(_ context.Context, pr PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[pr.PaymentRequestID]; ok {
		return fmt.Errorf("reconcile: payment request %s already exists", pr.PaymentRequestID)
	}
	s.requests[pr.PaymentRequestID] = pr
	return nil
}

func (s *MemoryStore) GetPaymentRequest(_ context.Context, id string) (PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pr, ok := s.requests[id]
	if !ok {
		return PaymentRequest{}, ErrNotFound
	}
	return pr, nil
}

func (s *MemoryStore) ListCreatedBefore(_ context.Context, cutoff time.Time, limit int) ([]PaymentRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PaymentRequest
	for _, pr := range s.requests {
		if pr.State == StateCreated && pr.CreatedAt.Before(cutoff) {
			out = append(out, pr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) HasNotification(_ context.Context, id, bodyHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.notifications[id] {
		if rec.BodyHash == bodyHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SaveNotification(_ context.Context, rec NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications[rec.PaymentRequestID] = append(s.notifications[rec.PaymentRequestID], rec)
	return nil
}

func (s *MemoryStore) TransitionState(_ context.Context, id string, from, to State, rec NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if pr.State != from {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrStaleState, id, pr.State, from)
	}
	pr.State = to
	pr.UpdatedAt = rec.ReceivedAt
	s.requests[id] = pr
	s.notifications[id] = append(s.notifications[id], rec)
	return nil
}

func (s *MemoryStore) LastAppliedNotification(_ context.Context, id string) (NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.notifications[id]
	for i := len(recs) - 1; i >= 0; i-- {
		if !recs[i].Conflict {
			return recs[i], nil
		}
	}
	return NotificationRecord{}, ErrNotFound
}

func (s *MemoryStore) ListConflicts(_ context.Context, limit int) ([]NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []NotificationRecord
	for _, recs := range s.notifications {
		for _, rec := range recs {
			if rec.Conflict {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NotificationCount reports how many records exist for a payment request id.
// Test helper.
func (s *MemoryStore) NotificationCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notifications[id])
}
