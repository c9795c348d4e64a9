// Package apperr defines the error kinds returned by the allocation core.
//
// Every kind is a sentinel error. Callers wrap them with fmt.Errorf("...: %w")
// to add detail and classify with errors.Is, KindOf or CategoryOf.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrFacilityNotFound             = errors.New("facility not found")
	ErrNoCapacity                   = errors.New("no capacity")
	ErrDuplicateAdmission           = errors.New("duplicate admission")
	ErrConcurrentAllocationConflict = errors.New("concurrent allocation conflict")
	ErrPatientNotFound              = errors.New("patient not found")
	ErrDischargeConflict            = errors.New("discharge conflict")
	ErrInvalidAdjustment            = errors.New("invalid adjustment")
	ErrStoreUnavailable             = errors.New("store unavailable")
	ErrNotFound                     = errors.New("no facility in range")
	ErrInvalidRequest               = errors.New("invalid request")
	ErrBookingNotFound              = errors.New("booking not found")
)

// Kind is the stable, machine readable name of an error kind.
type Kind string

const (
	KindFacilityNotFound             Kind = "FacilityNotFound"
	KindNoCapacity                   Kind = "NoCapacity"
	KindDuplicateAdmission           Kind = "DuplicateAdmission"
	KindConcurrentAllocationConflict Kind = "ConcurrentAllocationConflict"
	KindPatientNotFound              Kind = "PatientNotFound"
	KindDischargeConflict            Kind = "DischargeConflict"
	KindInvalidAdjustment            Kind = "InvalidAdjustment"
	KindStoreUnavailable             Kind = "StoreUnavailable"
	KindNotFound                     Kind = "NotFound"
	KindInvalidRequest               Kind = "InvalidRequest"
	KindBookingNotFound              Kind = "BookingNotFound"
	KindInternal                     Kind = "Internal"
)

// Category tells a caller what to do about a failure.
type Category string

const (
	CategoryTryElsewhere   Category = "try_elsewhere"
	CategoryFixInput       Category = "fix_input"
	CategoryNotFound       Category = "not_found"
	CategoryInfrastructure Category = "infrastructure"
)

type classification struct {
	sentinel error
	kind     Kind
	category Category
	status   int
}

// Order matters: StoreUnavailable is checked first so a wrapped driver
// failure is never reported as a definitive outcome.
var classifications = []classification{
	{ErrStoreUnavailable, KindStoreUnavailable, CategoryInfrastructure, http.StatusServiceUnavailable},
	{ErrFacilityNotFound, KindFacilityNotFound, CategoryNotFound, http.StatusNotFound},
	{ErrNoCapacity, KindNoCapacity, CategoryTryElsewhere, http.StatusConflict},
	{ErrConcurrentAllocationConflict, KindConcurrentAllocationConflict, CategoryTryElsewhere, http.StatusConflict},
	{ErrDuplicateAdmission, KindDuplicateAdmission, CategoryFixInput, http.StatusConflict},
	{ErrPatientNotFound, KindPatientNotFound, CategoryNotFound, http.StatusNotFound},
	{ErrDischargeConflict, KindDischargeConflict, CategoryFixInput, http.StatusConflict},
	{ErrInvalidAdjustment, KindInvalidAdjustment, CategoryFixInput, http.StatusUnprocessableEntity},
	{ErrNotFound, KindNotFound, CategoryTryElsewhere, http.StatusNotFound},
	{ErrInvalidRequest, KindInvalidRequest, CategoryFixInput, http.StatusBadRequest},
	{ErrBookingNotFound, KindBookingNotFound, CategoryNotFound, http.StatusNotFound},
}

func classify(err error) (classification, bool) {
	for _, c := range classifications {
		if errors.Is(err, c.sentinel) {
			return c, true
		}
	}
	return classification{}, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if c, ok := classify(err); ok {
		return c.kind
	}
	return KindInternal
}

// CategoryOf returns the caller-facing category of err. Unclassified errors
// are treated as infrastructure problems.
func CategoryOf(err error) Category {
	if c, ok := classify(err); ok {
		return c.category
	}
	return CategoryInfrastructure
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	if c, ok := classify(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// Retryable reports whether the same request may succeed if retried with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
