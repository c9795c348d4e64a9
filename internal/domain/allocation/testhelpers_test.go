package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/events"
)

// stepClock advances by one second on every call.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// scriptedRegistry overrides selected Registry calls.
type scriptedRegistry struct {
	facility.Registry
	commitAdmission func(ctx context.Context, name string, e facility.RosterEntry) (bool, error)
	commitDischarge func(ctx context.Context, name string, id uuid.UUID) (bool, error)
	// barrier, when set, holds every GetByName until it is released.
	barrier *sync.WaitGroup
}

func (r *scriptedRegistry) GetByName(ctx context.Context, name string) (*facility.Facility, error) {
	f, err := r.Registry.GetByName(ctx, name)
	if r.barrier != nil {
		r.barrier.Done()
		r.barrier.Wait()
	}
	return f, err
}

func (r *scriptedRegistry) CommitAdmission(ctx context.Context, name string, e facility.RosterEntry) (bool, error) {
	if r.commitAdmission != nil {
		return r.commitAdmission(ctx, name, e)
	}
	return r.Registry.CommitAdmission(ctx, name, e)
}

func (r *scriptedRegistry) CommitDischarge(ctx context.Context, name string, id uuid.UUID) (bool, error) {
	if r.commitDischarge != nil {
		return r.commitDischarge(ctx, name, id)
	}
	return r.Registry.CommitDischarge(ctx, name, id)
}

// scriptedRepo overrides selected Repository calls.
type scriptedRepo struct {
	Repository
	deleteErr     error
	transitionErr error
	// failTransitionTo limits transitionErr to one target status.
	failTransitionTo Status
}

func (r *scriptedRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.Repository.Delete(ctx, id)
}

func (r *scriptedRepo) Transition(ctx context.Context, id uuid.UUID, to Status, at time.Time, from ...Status) (bool, error) {
	if r.transitionErr != nil && (r.failTransitionTo == "" || r.failTransitionTo == to) {
		return false, r.transitionErr
	}
	return r.Repository.Transition(ctx, id, to, at, from...)
}

type fixture struct {
	registry  *scriptedRegistry
	memory    *facility.MemoryRegistry
	bookings  *scriptedRepo
	memRepo   *MemoryRepository
	pub       *recordingPublisher
	ledger    *Ledger
	discharge *DischargeCoordinator
	svc       *Service
}

func newFixture(t *testing.T, facilities ...*facility.Facility) *fixture {
	t.Helper()
	clock := newStepClock()
	mem := facility.NewMemoryRegistry(clock.Now)
	for _, f := range facilities {
		if _, err := mem.Provision(context.Background(), f); err != nil {
			t.Fatalf("provision %s: %v", f.Name, err)
		}
	}
	fx := &fixture{
		registry: &scriptedRegistry{Registry: mem},
		memory:   mem,
		memRepo:  NewMemoryRepository(),
		pub:      &recordingPublisher{},
	}
	fx.bookings = &scriptedRepo{Repository: fx.memRepo}

	fx.ledger = NewLedger(fx.registry, fx.bookings, zerolog.Nop())
	fx.discharge = NewDischargeCoordinator(fx.registry, fx.bookings, zerolog.Nop())
	fx.svc = NewService(fx.registry, fx.bookings, zerolog.Nop())
	for _, d := range []*deps{&fx.ledger.deps, &fx.discharge.deps, &fx.svc.deps} {
		d.SetPublisher(fx.pub)
		d.SetClock(clock.Now)
	}
	return fx
}

func (fx *fixture) facility(t *testing.T, name string) *facility.Facility {
	t.Helper()
	f, err := fx.memory.GetByName(context.Background(), name)
	if err != nil {
		t.Fatalf("get %s: %v", name, err)
	}
	if err := f.CheckInvariant(); err != nil {
		t.Errorf("invariant violated: %v", err)
	}
	return f
}

func hospital(name string, total, available int) *facility.Facility {
	return &facility.Facility{
		Name:      name,
		Location:  facility.Location{Latitude: 12.97, Longitude: 77.59},
		Total:     total,
		Available: available,
		Occupied:  total - available,
	}
}

func bookReq(name, phone, fac string) BookRequest {
	return BookRequest{PatientName: name, Phone: phone, Symptoms: "fever", Facility: fac}
}
