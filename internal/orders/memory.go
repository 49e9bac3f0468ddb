package orders

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]Order
	numbers  map[string]string
	external map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]Order),
		numbers:  make(map[string]string),
		external: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.numbers[o.OrderNumber]; ok {
		return ErrDuplicateNumber
	}
	if o.ExternalID != "" {
		if _, ok := s.external[o.ExternalID]; ok {
			return ErrDuplicateExternalID
		}
		s.external[o.ExternalID] = o.ID
	}
	s.orders[o.ID] = o.clone()
	s.numbers[o.OrderNumber] = o.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *MemoryStore) get(id string) (Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return o.clone(), nil
}

func (s *MemoryStore) GetByNumber(_ context.Context, number string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(s.numbers[number])
}

func (s *MemoryStore) GetByExternalID(_ context.Context, externalID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(s.external[externalID])
}

func (s *MemoryStore) NumberExists(_ context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.numbers[number]
	return ok, nil
}

func (f Filter) match(o Order) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if o.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CustomerPhone != "" && o.CustomerPhone != f.CustomerPhone {
		return false
	}
	if f.CustomerEmail != "" && !strings.EqualFold(o.CustomerEmail, f.CustomerEmail) {
		return false
	}
	if f.FloristID != "" && (o.AssignedFloristID == nil || *o.AssignedFloristID != f.FloristID) {
		return false
	}
	if f.CreatedFrom != nil && o.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && o.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.DeliveryDay != nil && (o.DeliveryDate == nil || !sameDay(*o.DeliveryDate, *f.DeliveryDay)) {
		return false
	}
	if f.DeliveryBefore != nil && (o.DeliveryDate == nil || !o.DeliveryDate.Before(*f.DeliveryBefore)) {
		return false
	}
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		if !strings.Contains(strings.ToLower(o.CustomerName), term) &&
			!strings.Contains(strings.ToLower(o.OrderNumber), term) {
			return false
		}
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Order
	for _, o := range s.orders {
		if f.match(o) {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderNumber < out[j].OrderNumber
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Order) error) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	next := cur.clone()
	if err := fn(&next); err != nil {
		return cur.clone(), err
	}
	s.orders[id] = next.clone()
	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string, check func(Order) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if err := check(o.clone()); err != nil {
		return err
	}
	delete(s.orders, id)
	delete(s.numbers, o.OrderNumber)
	if o.ExternalID != "" {
		delete(s.external, o.ExternalID)
	}
	return nil
}
