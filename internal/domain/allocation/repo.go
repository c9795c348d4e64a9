package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository stores bookings. Bookings live apart from facilities, so no
// write here is atomic with a facility write.
type Repository interface {
	Create(ctx context.Context, b *Booking) error
	// Delete removes a booking. It is the saga's compensating action.
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	// Transition sets the status to `to` only while the current status is one
	// of from. It returns false when the booking is missing or in another state.
	Transition(ctx context.Context, id uuid.UUID, to Status, at time.Time, from ...Status) (bool, error)
	// ListRecent returns a facility's bookings, newest first.
	ListRecent(ctx context.Context, facility string, limit int) ([]*Booking, error)
	// ListPending returns Pending bookings created before cutoff, oldest first.
	ListPending(ctx context.Context, cutoff time.Time, limit int) ([]*Booking, error)
}
