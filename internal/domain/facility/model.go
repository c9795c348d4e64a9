package facility

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
)

// Location is a WGS-84 coordinate in degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects non-finite and out-of-range coordinates.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || math.IsInf(l.Latitude, 0) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude must be within [-90, 90], got %v", apperr.ErrInvalidRequest, l.Latitude)
	}
	if math.IsNaN(l.Longitude) || math.IsInf(l.Longitude, 0) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude must be within [-180, 180], got %v", apperr.ErrInvalidRequest, l.Longitude)
	}
	return nil
}

// RosterEntry is one admitted patient. BookingID links the entry to the
// booking that admitted it and is the handle discharge removes it by.
type RosterEntry struct {
	BookingID  uuid.UUID `json:"booking_id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Symptoms   string    `json:"symptoms"`
	AdmittedAt time.Time `json:"admitted_at"`
}

// Matches reports whether the entry belongs to the patient identified by
// the (name, phone) natural key.
func (e RosterEntry) Matches(name, phone string) bool {
	return e.Name == name && e.Phone == phone
}

// Facility maps to the facility table / facilities collection.
type Facility struct {
	ID        string        `db:"id" json:"id"`
	Name      string        `db:"name" json:"name"`
	Location  Location      `db:"-" json:"location"`
	Total     int           `db:"total" json:"total"`
	Available int           `db:"available" json:"available"`
	Occupied  int           `db:"occupied" json:"occupied"`
	Roster    []RosterEntry `db:"roster" json:"roster"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// CheckInvariant verifies available + occupied == total with no negative counter.
func (f *Facility) CheckInvariant() error {
	if f.Available < 0 || f.Occupied < 0 || f.Total < 0 {
		return fmt.Errorf("facility %q has a negative counter (total=%d available=%d occupied=%d)",
			f.Name, f.Total, f.Available, f.Occupied)
	}
	if f.Available+f.Occupied != f.Total {
		return fmt.Errorf("facility %q: available %d + occupied %d != total %d",
			f.Name, f.Available, f.Occupied, f.Total)
	}
	return nil
}

// FindPatient returns the first roster entry for (name, phone).
func (f *Facility) FindPatient(name, phone string) (RosterEntry, bool) {
	for _, e := range f.Roster {
		if e.Matches(name, phone) {
			return e, true
		}
	}
	return RosterEntry{}, false
}

// HasBooking reports whether a roster entry was admitted by bookingID.
func (f *Facility) HasBooking(bookingID uuid.UUID) bool {
	for _, e := range f.Roster {
		if e.BookingID == bookingID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (f *Facility) Clone() *Facility {
	c := *f
	c.Roster = append([]RosterEntry(nil), f.Roster...)
	return &c
}

// Validate checks a facility before it is provisioned.
func (f *Facility) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: name is required", apperr.ErrInvalidRequest)
	}
	if err := f.Location.Validate(); err != nil {
		return err
	}
	if err := f.CheckInvariant(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}
	if len(f.Roster) > f.Occupied {
		return fmt.Errorf("%w: roster holds %d patients but only %d beds are occupied",
			apperr.ErrInvalidRequest, len(f.Roster), f.Occupied)
	}
	return nil
}

// ConsistencyReport describes how a facility's counters relate to its roster.
type ConsistencyReport struct {
	Facility      string   `json:"facility"`
	Total         int      `json:"total"`
	Available     int      `json:"available"`
	Occupied      int      `json:"occupied"`
	RosterSize    int      `json:"roster_size"`
	CountersValid bool     `json:"counters_valid"`
	RosterMatches bool     `json:"roster_matches"`
	Problems      []string `json:"problems,omitempty"`
}

// Consistency builds a report for f. Occupied beds without a roster entry are
// allowed (beds may be occupied outside this system), so only a roster larger
// than the occupied count is flagged as a mismatch.
func (f *Facility) Consistency() *ConsistencyReport {
	r := &ConsistencyReport{
		Facility:      f.Name,
		Total:         f.Total,
		Available:     f.Available,
		Occupied:      f.Occupied,
		RosterSize:    len(f.Roster),
		CountersValid: true,
		RosterMatches: true,
	}
	if err := f.CheckInvariant(); err != nil {
		r.CountersValid = false
		r.Problems = append(r.Problems, err.Error())
	}
	if len(f.Roster) > f.Occupied {
		r.RosterMatches = false
		r.Problems = append(r.Problems,
			fmt.Sprintf("roster holds %d patients but occupied is %d", len(f.Roster), f.Occupied))
	}
	return r
}
