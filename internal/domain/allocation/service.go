package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/events"
)

const (
	DefaultRecentLimit = 5
	MaxRecentLimit     = 100

	// reapBatch caps how many stale bookings one ReapPending call settles.
	reapBatch = 500
)

// Service answers booking queries and settles stale Pending bookings.
type Service struct {
	deps
}

func NewService(registry facility.Registry, bookings Repository, logger zerolog.Logger) *Service {
	return &Service{deps: newDeps(registry, bookings, logger, "bookings")}
}

// ListRecentBookings returns up to limit bookings of a facility, newest
// first. A non-positive limit means DefaultRecentLimit; larger values are
// capped at MaxRecentLimit.
func (s *Service) ListRecentBookings(ctx context.Context, facilityName string, limit int) ([]*Booking, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	if _, err := s.registry.GetByName(ctx, facilityName); err != nil {
		return nil, err
	}
	items, err := s.bookings.ListRecent(ctx, facilityName, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*Booking{}
	}
	return items, nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

// ReapResult counts what ReapPending did.
type ReapResult struct {
	Examined   int `json:"examined"`
	Confirmed  int `json:"confirmed"`
	RolledBack int `json:"rolled_back"`
	Skipped    int `json:"skipped"`
}

// ReapPending settles bookings that have been Pending for longer than
// olderThan. A booking whose id is on its facility's roster was admitted
// and is confirmed; any other is rolled back. olderThan should comfortably
// exceed the longest expected saga so in-flight bookings are left alone.
func (s *Service) ReapPending(ctx context.Context, olderThan time.Duration) (*ReapResult, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("%w: older-than must be positive", apperr.ErrInvalidRequest)
	}
	cutoff := s.now().Add(-olderThan)
	stale, err := s.bookings.ListPending(ctx, cutoff, reapBatch)
	if err != nil {
		return nil, err
	}

	res := &ReapResult{Examined: len(stale)}
	rosters := make(map[string]*facility.Facility)
	for _, b := range stale {
		f, ok := rosters[b.Facility]
		if !ok {
			f, err = s.registry.GetByName(ctx, b.Facility)
			if err != nil && !errors.Is(err, apperr.ErrFacilityNotFound) {
				return res, err
			}
			rosters[b.Facility] = f
		}

		to, evType := StatusRolledBack, events.BookingRolledBack
		if f != nil && f.HasBooking(b.ID) {
			to, evType = StatusConfirmed, events.BookingConfirmed
		}
		moved, err := s.bookings.Transition(ctx, b.ID, to, s.now().UTC(), StatusPending)
		if err != nil {
			return res, err
		}
		if !moved {
			res.Skipped++
			continue
		}
		if to == StatusConfirmed {
			res.Confirmed++
		} else {
			res.RolledBack++
		}
		s.logger.Info().Str("booking_id", b.ID.String()).Str("facility", b.Facility).
			Str("status", string(to)).Msg("stale pending booking settled")
		s.publish(ctx, events.Event{
			Type:      evType,
			Facility:  b.Facility,
			BookingID: b.ID.String(),
			Data:      map[string]interface{}{"reaped": true},
		})
	}
	return res, nil
}
