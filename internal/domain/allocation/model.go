package allocation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
)

type Status string

const (
	StatusPending    Status = "Pending"
	StatusConfirmed  Status = "Confirmed"
	StatusRolledBack Status = "RolledBack"
	StatusDischarged Status = "Discharged"
)

// Booking maps to the booking table / bookings collection.
type Booking struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientName string    `db:"patient_name" json:"patient_name"`
	Phone       string    `db:"phone" json:"phone"`
	Symptoms    string    `db:"symptoms" json:"symptoms"`
	Facility    string    `db:"facility" json:"facility"`
	Status      Status    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// BookRequest is the input of Ledger.Book.
type BookRequest struct {
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	Symptoms    string `json:"symptoms"`
	Facility    string `json:"facility"`
}

func (r BookRequest) normalized() BookRequest {
	return BookRequest{
		PatientName: strings.TrimSpace(r.PatientName),
		Phone:       strings.TrimSpace(r.Phone),
		Symptoms:    strings.TrimSpace(r.Symptoms),
		Facility:    strings.TrimSpace(r.Facility),
	}
}

func (r BookRequest) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"patient_name", r.PatientName},
		{"phone", r.Phone},
		{"symptoms", r.Symptoms},
		{"facility", r.Facility},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", apperr.ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// DischargeRequest is the input of DischargeCoordinator.Discharge.
type DischargeRequest struct {
	Facility    string `json:"facility"`
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
}

func (r DischargeRequest) Validate() error {
	if strings.TrimSpace(r.Facility) == "" || strings.TrimSpace(r.PatientName) == "" || strings.TrimSpace(r.Phone) == "" {
		return fmt.Errorf("%w: facility, patient_name and phone are required", apperr.ErrInvalidRequest)
	}
	return nil
}

// Discharge describes a completed discharge.
type Discharge struct {
	Facility     string    `json:"facility"`
	PatientName  string    `json:"patient_name"`
	Phone        string    `json:"phone"`
	BookingID    uuid.UUID `json:"booking_id"`
	DischargedAt time.Time `json:"discharged_at"`
}
