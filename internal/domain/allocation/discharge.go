package allocation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/events"
)

// DischargeCoordinator releases a patient's bed.
type DischargeCoordinator struct {
	deps
}

func NewDischargeCoordinator(registry facility.Registry, bookings Repository, logger zerolog.Logger) *DischargeCoordinator {
	return &DischargeCoordinator{deps: newDeps(registry, bookings, logger, "discharge")}
}

// Discharge removes the roster entry for (name, phone) and returns its bed.
// The write only applies while that entry is still on the roster, so of two
// concurrent discharges of one patient exactly one succeeds and the other
// gets ErrDischargeConflict.
func (d *DischargeCoordinator) Discharge(ctx context.Context, req DischargeRequest) (res *Discharge, err error) {
	defer func() { d.metrics.ObserveDischarge(outcome(err)) }()

	req.Facility = strings.TrimSpace(req.Facility)
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f, err := d.registry.GetByName(ctx, req.Facility)
	if err != nil {
		return nil, err
	}
	entry, ok := f.FindPatient(req.PatientName, req.Phone)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s) is not admitted to %q",
			apperr.ErrPatientNotFound, req.PatientName, req.Phone, f.Name)
	}

	released, err := d.registry.CommitDischarge(ctx, f.Name, entry.BookingID)
	if err != nil {
		return nil, err
	}
	if !released {
		return nil, fmt.Errorf("%w: roster entry for %s (%s) at %q changed before the discharge was written",
			apperr.ErrDischargeConflict, req.PatientName, req.Phone, f.Name)
	}

	now := d.now().UTC()
	log := d.logger.With().Str("facility", f.Name).Str("booking_id", entry.BookingID.String()).Logger()
	log.Info().Str("patient", entry.Name).Msg("patient discharged")

	d.markDischarged(ctx, entry.BookingID, log)
	d.publish(ctx, events.Event{
		Type:      events.BookingDischarged,
		Facility:  f.Name,
		BookingID: entry.BookingID.String(),
		At:        now,
	})

	return &Discharge{
		Facility:     f.Name,
		PatientName:  entry.Name,
		Phone:        entry.Phone,
		BookingID:    entry.BookingID,
		DischargedAt: now,
	}, nil
}

// markDischarged updates the booking linked to a roster entry. Capacity is
// already correct at this point, so failures are only logged.
func (d *DischargeCoordinator) markDischarged(ctx context.Context, id uuid.UUID, log zerolog.Logger) {
	if id == uuid.Nil {
		return
	}
	ok, err := d.bookings.Transition(ctx, id, StatusDischarged, d.now().UTC(), StatusConfirmed, StatusPending)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("could not mark booking discharged")
	case !ok:
		log.Warn().Msg("no confirmed booking to mark discharged")
	}
}
