package freshness

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.RWMutex
	batches map[string]Batch
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[string]Batch)}
}

func (s *MemoryStore) Create(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return b, nil
}

func (q Query) match(b Batch) bool {
	if q.ItemID != "" && b.ItemID != q.ItemID {
		return false
	}
	if q.Status != "" && b.Status != q.Status {
		return false
	}
	if q.BatchNumber != "" && b.BatchNumber != q.BatchNumber {
		return false
	}
	if q.DeliveryDate != nil && !Date(b.DeliveryDate).Equal(Date(*q.DeliveryDate)) {
		return false
	}
	if q.ExpiresBefore != nil && (b.ExpiryDate == nil || !Date(*b.ExpiryDate).Before(Date(*q.ExpiresBefore))) {
		return false
	}
	if q.UnsoldOnly && b.Sold {
		return false
	}
	if q.SoldFrom != nil || q.SoldTo != nil {
		if !b.Sold || b.SoldDate == nil {
			return false
		}
		sd := Date(*b.SoldDate)
		if q.SoldFrom != nil && sd.Before(Date(*q.SoldFrom)) {
			return false
		}
		if q.SoldTo != nil && sd.After(Date(*q.SoldTo)) {
			return false
		}
	}
	return true
}

func (s *MemoryStore) List(_ context.Context, q Query) ([]Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Batch
	for _, b := range s.batches {
		if q.match(b) {
			out = append(out, b)
		}
	}
	sortBatches(out)
	return out, nil
}

// sortBatches orders by expiry (unknown last), then id.
func sortBatches(bs []Batch) {
	sort.Slice(bs, func(i, j int) bool {
		a, b := bs[i].ExpiryDate, bs[j].ExpiryDate
		switch {
		case a == nil && b == nil:
			return bs[i].ID < bs[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return bs[i].ID < bs[j].ID
	})
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Batch) error) (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.batches[id]
	if !ok {
		return Batch{}, ErrNotFound
	}
	next := cur
	if err := fn(&next); err != nil {
		return cur, err
	}
	next.UpdatedAt = time.Now().UTC()
	s.batches[id] = next
	return next, nil
}

func (s *MemoryStore) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, b := range s.batches {
		if b.ExpiryDate != nil && Date(*b.ExpiryDate).Before(Date(cutoff)) {
			delete(s.batches, id)
			n++
		}
	}
	return n, nil
}
