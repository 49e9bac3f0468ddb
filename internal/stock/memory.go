package stock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memRow struct {
	mu   sync.Mutex
	item Item
}

// MemoryStore keeps items in process. Each item has its own mutex; multi-item
// reservations lock rows in item ID order and a per-order mutex keeps the
// reservation bookkeeping of one order serialized.
type MemoryStore struct {
	mu           sync.RWMutex
	rows         map[string]*memRow
	skus         map[string]string
	orderLocks   map[string]*sync.Mutex
	reservations map[string][]Reservation
	settled      map[string]ReservationStatus
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:         make(map[string]*memRow),
		skus:         make(map[string]string),
		orderLocks:   make(map[string]*sync.Mutex),
		reservations: make(map[string][]Reservation),
		settled:      make(map[string]ReservationStatus),
		now:          time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, it Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.skus[it.SKU]; ok {
		return ErrDuplicateSKU
	}
	s.rows[it.ID] = &memRow{item: it}
	s.skus[it.SKU] = it.ID
	return nil
}

func (s *MemoryStore) row(id string) (*memRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Item, error) {
	r, err := s.row(id)
	if err != nil {
		return Item{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.item, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Item, error) {
	s.mu.RLock()
	rows := make([]*memRow, 0, len(s.rows))
	for _, r := range s.rows {
		rows = append(rows, r)
	}
	s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Item, 0, len(rows))
	for _, r := range rows {
		r.mu.Lock()
		it := r.item
		r.mu.Unlock()
		if f.Kind != "" && it.Kind != f.Kind {
			continue
		}
		if f.ActiveOnly && !it.Active {
			continue
		}
		if search != "" && !matches(it, search) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func matches(it Item, term string) bool {
	return strings.Contains(strings.ToLower(it.Name), term) ||
		strings.Contains(strings.ToLower(it.Variety), term) ||
		strings.Contains(strings.ToLower(it.SKU), term)
}

func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Item) error) (Item, error) {
	r, err := s.row(id)
	if err != nil {
		return Item{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.item
	if err := fn(&next); err != nil {
		return r.item, err
	}
	if err := next.checkInvariant(); err != nil {
		return r.item, err
	}
	next.UpdatedAt = s.now().UTC()
	r.item = next
	return next, nil
}

func (s *MemoryStore) orderLock(orderID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.orderLocks[orderID]
	if !ok {
		m = &sync.Mutex{}
		s.orderLocks[orderID] = m
	}
	return m
}

// lockRows locks the rows of ids (already sorted) and returns them with an unlock func.
func (s *MemoryStore) lockRows(ids []string) ([]*memRow, func(), error) {
	rows := make([]*memRow, 0, len(ids))
	for _, id := range ids {
		r, err := s.row(id)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, r)
	}
	for _, r := range rows {
		r.mu.Lock()
	}
	return rows, func() {
		for i := len(rows) - 1; i >= 0; i-- {
			rows[i].mu.Unlock()
		}
	}, nil
}

func (s *MemoryStore) Reserve(_ context.Context, orderID string, lines []Line) ([]Reservation, error) {
	merged, err := mergeLines(lines)
	if err != nil {
		return nil, err
	}
	ol := s.orderLock(orderID)
	ol.Lock()
	defer ol.Unlock()

	if existing := s.orderReservations(orderID); len(existing) > 0 {
		return existing, nil
	}
	s.mu.RLock()
	to, closed := s.settled[orderID]
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: order %s was %s", ErrOrderSettled, orderID, strings.ToLower(string(to)))
	}

	ids := make([]string, len(merged))
	for i, l := range merged {
		ids[i] = l.ItemID
	}
	rows, unlock, err := s.lockRows(ids)
	if err != nil {
		return nil, err
	}
	defer unlock()

	next := make([]Item, len(rows))
	var short []Shortfall
	for i, r := range rows {
		next[i] = r.item
		if !next[i].Active {
			short = append(short, Shortfall{ItemID: r.item.ID, Required: merged[i].Qty, Available: r.item.Available(), Reason: ErrInactive.Error()})
			continue
		}
		sf, err := reserveLine(&next[i], merged[i])
		if err != nil {
			return nil, err
		}
		if sf != nil {
			short = append(short, *sf)
		}
	}
	if len(short) > 0 {
		return nil, &ShortfallError{OrderID: orderID, Details: short}
	}

	now := s.now().UTC()
	out := make([]Reservation, len(rows))
	for i, r := range rows {
		next[i].UpdatedAt = now
		r.item = next[i]
		out[i] = Reservation{OrderID: orderID, ItemID: r.item.ID, Qty: merged[i].Qty, Status: ReservationReserved, CreatedAt: now, UpdatedAt: now}
	}
	s.mu.Lock()
	s.reservations[orderID] = append([]Reservation(nil), out...)
	s.mu.Unlock()
	return out, nil
}

func (s *MemoryStore) Settle(_ context.Context, orderID string, to ReservationStatus) ([]Reservation, error) {
	ol := s.orderLock(orderID)
	ol.Lock()
	defer ol.Unlock()

	all := s.orderReservations(orderID)
	var open []int
	ids := make([]string, 0, len(all))
	for i, r := range all {
		if r.Status == ReservationReserved {
			open = append(open, i)
			ids = append(ids, r.ItemID)
		}
	}
	if len(open) == 0 {
		if len(all) == 0 {
			s.mu.Lock()
			s.settled[orderID] = to
			s.mu.Unlock()
		}
		return nil, nil
	}

	rows, unlock, err := s.lockRows(ids)
	if err != nil {
		return nil, err
	}
	defer unlock()

	next := make([]Item, len(rows))
	for i, r := range rows {
		next[i] = r.item
		if err := settleLine(&next[i], all[open[i]], to); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	settled := make([]Reservation, 0, len(open))
	for i, r := range rows {
		next[i].UpdatedAt = now
		r.item = next[i]
		res := all[open[i]]
		res.Status = to
		res.UpdatedAt = now
		all[open[i]] = res
		settled = append(settled, res)
	}
	s.mu.Lock()
	s.reservations[orderID] = all
	s.mu.Unlock()
	return settled, nil
}

func (s *MemoryStore) Reservations(_ context.Context, orderID string) ([]Reservation, error) {
	return s.orderReservations(orderID), nil
}

func (s *MemoryStore) orderReservations(orderID string) []Reservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Reservation(nil), s.reservations[orderID]...)
}
