package facility

import (
	"context"

	"github.com/google/uuid"
)

// Registry is the facility store. Implementations must apply CommitAdmission,
// CommitDischarge and SetCapacity as single atomic writes against one facility
// record; there is no multi-record transaction to fall back on.
type Registry interface {
	GetByName(ctx context.Context, name string) (*Facility, error)
	List(ctx context.Context) ([]*Facility, error)
	// ListAvailable returns the facilities with available > 0.
	ListAvailable(ctx context.Context) ([]*Facility, error)

	// CommitAdmission appends entry to the roster and moves one bed from
	// available to occupied, but only while available > 0 at write time.
	// It returns false when the guard did not hold.
	CommitAdmission(ctx context.Context, name string, entry RosterEntry) (bool, error)
	// CommitDischarge removes the roster entry admitted by bookingID and moves
	// one bed back to available, but only while that entry is still present and
	// occupied > 0 at write time. It returns false when the guard did not hold
	// and always for uuid.Nil.
	CommitDischarge(ctx context.Context, name string, bookingID uuid.UUID) (bool, error)
	// SetCapacity writes all three counters in one write. The roster is untouched.
	SetCapacity(ctx context.Context, name string, total, available, occupied int) error

	// Provision inserts f unless a facility with the same name exists.
	// It returns true when a record was created.
	Provision(ctx context.Context, f *Facility) (bool, error)
}
