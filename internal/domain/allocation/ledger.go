// Package allocation books and releases beds.
//
// A booking spans two records that no store write can change together: the
// booking itself and the facility's counters and roster. Ledger.Book runs it
// as a saga. The booking is written Pending, the facility is changed by a
// single guarded write that only applies while a bed is free, and the
// booking is then confirmed or, if the guard failed, compensated.
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/events"
	"github.com/bedalloc/bedalloc/internal/platform/metrics"
)

// compensationTimeout bounds the cleanup of a failed saga. Cleanup runs even
// when the caller's context is already done.
const compensationTimeout = 5 * time.Second

// deps is shared by the allocation components.
type deps struct {
	registry facility.Registry
	bookings Repository
	pub      events.Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func newDeps(registry facility.Registry, bookings Repository, logger zerolog.Logger, component string) deps {
	return deps{
		registry: registry,
		bookings: bookings,
		pub:      events.Nop{},
		logger:   logger.With().Str("component", component).Logger(),
		now:      time.Now,
	}
}

// SetPublisher attaches an event publisher.
func (d *deps) SetPublisher(p events.Publisher) {
	if p != nil {
		d.pub = p
	}
}

// SetMetrics attaches optional Prometheus metrics.
func (d *deps) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// SetClock replaces the wall clock used for timestamps.
func (d *deps) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

func (d *deps) publish(ctx context.Context, ev events.Event) {
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}
	if err := d.pub.Publish(ctx, ev); err != nil {
		d.logger.Warn().Err(err).Str("event", ev.Type).Str("facility", ev.Facility).Msg("publish event failed")
	}
}

type Ledger struct {
	deps
	newID func() uuid.UUID
}

func NewLedger(registry facility.Registry, bookings Repository, logger zerolog.Logger) *Ledger {
	return &Ledger{
		deps:  newDeps(registry, bookings, logger, "ledger"),
		newID: uuid.New,
	}
}

// Book admits a patient to a facility.
//
// Checks that fail before any write (missing fields, unknown facility, no
// free bed, patient already admitted) return without side effects. When the
// guarded facility write finds no free bed the Pending booking is removed and
// ErrConcurrentAllocationConflict is returned.
//
// When a store error leaves the outcome unknown, Book returns the Pending
// booking together with the error so the caller can re-query it by id.
func (l *Ledger) Book(ctx context.Context, req BookRequest) (b *Booking, err error) {
	start := time.Now()
	defer func() { l.metrics.ObserveBooking(outcome(err), time.Since(start)) }()

	req = req.normalized()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f, err := l.registry.GetByName(ctx, req.Facility)
	if err != nil {
		return nil, err
	}
	if f.Available <= 0 {
		return nil, fmt.Errorf("%w: facility %q has no available bed", apperr.ErrNoCapacity, f.Name)
	}
	// This check is not repeated inside the guarded write, so two concurrent
	// bookings for the same patient can both pass it.
	if _, admitted := f.FindPatient(req.PatientName, req.Phone); admitted {
		return nil, fmt.Errorf("%w: %s (%s) is already admitted to %q",
			apperr.ErrDuplicateAdmission, req.PatientName, req.Phone, f.Name)
	}

	now := l.now().UTC()
	b = &Booking{
		ID:          l.newID(),
		PatientName: req.PatientName,
		Phone:       req.Phone,
		Symptoms:    req.Symptoms,
		Facility:    f.Name,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.bookings.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create pending booking: %w", err)
	}
	log := l.logger.With().Str("booking_id", b.ID.String()).Str("facility", f.Name).Logger()
	log.Debug().Msg("pending booking created")

	committed, err := l.registry.CommitAdmission(ctx, f.Name, facility.RosterEntry{
		BookingID:  b.ID,
		Name:       b.PatientName,
		Phone:      b.Phone,
		Symptoms:   b.Symptoms,
		AdmittedAt: now,
	})
	if err != nil {
		// The write may or may not have been applied. The booking stays
		// Pending; ReapPending settles it from the roster later.
		log.Warn().Err(err).Msg("admission outcome unknown, booking left pending")
		return b, fmt.Errorf("commit admission for booking %s: %w", b.ID, err)
	}
	if !committed {
		l.compensate(ctx, b)
		return nil, fmt.Errorf("%w: facility %q had no free bed at commit time",
			apperr.ErrConcurrentAllocationConflict, f.Name)
	}
	log.Debug().Msg("admission committed")

	confirmedAt := l.now().UTC()
	ok, err := l.bookings.Transition(ctx, b.ID, StatusConfirmed, confirmedAt, StatusPending)
	if err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("booking %s is no longer pending", b.ID)
		}
		log.Error().Err(err).Msg("admission committed but booking not confirmed")
		return b, fmt.Errorf("confirm booking %s: %w: %w", b.ID, apperr.ErrStoreUnavailable, err)
	}
	b.Status = StatusConfirmed
	b.UpdatedAt = confirmedAt

	log.Info().Str("patient", b.PatientName).Msg("booking confirmed")
	l.publish(ctx, events.Event{
		Type:      events.BookingConfirmed,
		Facility:  b.Facility,
		BookingID: b.ID.String(),
		At:        confirmedAt,
	})
	return b, nil
}

// compensate undoes the Pending booking of a saga whose guarded write failed.
// It deletes the booking, falls back to marking it RolledBack, and as a last
// resort logs it as orphaned. The facility was not changed, so an orphan
// never affects capacity accounting.
func (l *Ledger) compensate(ctx context.Context, b *Booking) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	log := l.logger.With().Str("booking_id", b.ID.String()).Str("facility", b.Facility).Logger()

	ev := events.Event{Type: events.BookingRolledBack, Facility: b.Facility, BookingID: b.ID.String()}

	delErr := l.bookings.Delete(ctx, b.ID)
	if delErr == nil {
		log.Debug().Msg("pending booking deleted after failed commit")
		ev.Data = map[string]interface{}{"compensation": "deleted"}
		l.publish(ctx, ev)
		return
	}
	log.Warn().Err(delErr).Msg("compensating delete failed, marking booking rolled back")

	ok, err := l.bookings.Transition(ctx, b.ID, StatusRolledBack, l.now().UTC(), StatusPending)
	if err == nil && ok {
		ev.Data = map[string]interface{}{"compensation": "rolled_back"}
		l.publish(ctx, ev)
		return
	}
	if err == nil {
		err = fmt.Errorf("booking is no longer pending")
	}
	l.metrics.OrphanedBooking()
	log.Error().Err(err).AnErr("delete_error", delErr).Msg("orphaned pending booking")
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}
