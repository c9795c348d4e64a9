package facility

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
)

// MemoryRegistry is a thread-safe in-memory Registry. Each guarded write runs
// under the store mutex, which gives it the same all-or-nothing behaviour as a
// single-document update in Postgres or Mongo. It is suitable for development,
// testing and single-node deployments.
type MemoryRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Facility
	now    func() time.Time
}

// NewMemoryRegistry creates an empty registry. A nil clock defaults to time.Now.
func NewMemoryRegistry(now func() time.Time) *MemoryRegistry {
	if now == nil {
		now = time.Now
	}
	return &MemoryRegistry{byName: make(map[string]*Facility), now: now}
}

func (r *MemoryRegistry) GetByName(_ context.Context, name string) (*Facility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", apperr.ErrFacilityNotFound, name)
	}
	return f.Clone(), nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]*Facility, error) {
	return r.list(func(*Facility) bool { return true }), nil
}

func (r *MemoryRegistry) ListAvailable(_ context.Context) ([]*Facility, error) {
	return r.list(func(f *Facility) bool { return f.Available > 0 }), nil
}

func (r *MemoryRegistry) list(keep func(*Facility) bool) []*Facility {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Facility
	for _, f := range r.byName {
		if keep(f) {
			result = append(result, f.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (r *MemoryRegistry) CommitAdmission(_ context.Context, name string, entry RosterEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.byName[name]
	if !ok || f.Available <= 0 {
		return false, nil
	}
	f.Available--
	f.Occupied++
	f.Roster = append(f.Roster, entry)
	f.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRegistry) CommitDischarge(_ context.Context, name string, bookingID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.byName[name]
	if !ok || f.Occupied <= 0 || bookingID == uuid.Nil {
		return false, nil
	}
	for i, e := range f.Roster {
		if e.BookingID != bookingID {
			continue
		}
		f.Roster = append(f.Roster[:i:i], f.Roster[i+1:]...)
		f.Available++
		f.Occupied--
		f.UpdatedAt = r.now()
		return true, nil
	}
	return false, nil
}

func (r *MemoryRegistry) SetCapacity(_ context.Context, name string, total, available, occupied int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", apperr.ErrFacilityNotFound, name)
	}
	f.Total, f.Available, f.Occupied = total, available, occupied
	f.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRegistry) Provision(_ context.Context, f *Facility) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[f.Name]; exists {
		return false, nil
	}
	cp := f.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	now := r.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.byName[cp.Name] = cp
	f.ID, f.CreatedAt, f.UpdatedAt = cp.ID, now, now
	return true, nil
}
