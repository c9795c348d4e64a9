package allocation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
)

// MemoryRepository is a thread-safe in-memory Repository.
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Booking
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[uuid.UUID]*Booking)}
}

func (r *MemoryRepository) Create(_ context.Context, b *Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[b.ID]; exists {
		return fmt.Errorf("booking %s already exists", b.ID)
	}
	cp := *b
	r.byID[b.ID] = &cp
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: %s", apperr.ErrBookingNotFound, id)
	}
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperr.ErrBookingNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (r *MemoryRepository) Transition(_ context.Context, id uuid.UUID, to Status, at time.Time, from ...Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok || !statusIn(b.Status, from) {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	return true, nil
}

func (r *MemoryRepository) ListRecent(_ context.Context, facility string, limit int) ([]*Booking, error) {
	return r.collect(func(b *Booking) bool { return b.Facility == facility }, newestFirst, limit), nil
}

func (r *MemoryRepository) ListPending(_ context.Context, cutoff time.Time, limit int) ([]*Booking, error) {
	return r.collect(func(b *Booking) bool {
		return b.Status == StatusPending && b.CreatedAt.Before(cutoff)
	}, oldestFirst, limit), nil
}

func (r *MemoryRepository) collect(keep func(*Booking) bool, less func(a, b *Booking) bool, limit int) []*Booking {
	r.mu.RLock()
	var out []*Booking
	for _, b := range r.byID {
		if keep(b) {
			cp := *b
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func newestFirst(a, b *Booking) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func oldestFirst(a, b *Booking) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}
