package facility

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/events"
	"github.com/bedalloc/bedalloc/internal/platform/metrics"
)

type Service struct {
	registry Registry
	pub      events.Publisher
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(registry Registry, logger zerolog.Logger) *Service {
	return &Service{
		registry: registry,
		pub:      events.Nop{},
		logger:   logger.With().Str("component", "facility").Logger(),
		now:      time.Now,
	}
}

// SetPublisher attaches an event publisher for capacity.adjusted events.
func (s *Service) SetPublisher(p events.Publisher) {
	if p != nil {
		s.pub = p
	}
}

// SetMetrics attaches optional Prometheus metrics.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) Registry() Registry {
	return s.registry
}

func (s *Service) Get(ctx context.Context, name string) (*Facility, error) {
	return s.registry.GetByName(ctx, name)
}

func (s *Service) List(ctx context.Context) ([]*Facility, error) {
	return s.registry.List(ctx)
}

// AdjustCapacity overwrites the counters of one facility. Occupied is derived
// as newTotal - newAvailable and the three fields are written together. The
// roster is neither read nor changed, so an administrator can leave occupied
// below the roster size; CheckConsistency reports that case.
func (s *Service) AdjustCapacity(ctx context.Context, name string, newTotal, newAvailable int) (err error) {
	defer func() { s.metrics.ObserveAdjustment(outcome(err)) }()

	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: facility name is required", apperr.ErrInvalidRequest)
	}
	if newTotal < 0 {
		return fmt.Errorf("%w: total must be >= 0, got %d", apperr.ErrInvalidAdjustment, newTotal)
	}
	if newAvailable < 0 || newAvailable > newTotal {
		return fmt.Errorf("%w: available must be within [0, %d], got %d",
			apperr.ErrInvalidAdjustment, newTotal, newAvailable)
	}
	occupied := newTotal - newAvailable

	if err := s.registry.SetCapacity(ctx, name, newTotal, newAvailable, occupied); err != nil {
		return err
	}

	s.logger.Info().
		Str("facility", name).
		Int("total", newTotal).
		Int("available", newAvailable).
		Int("occupied", occupied).
		Msg("capacity adjusted")

	ev := events.Event{
		Type:     events.CapacityAdjusted,
		Facility: name,
		At:       s.now().UTC(),
		Data: map[string]interface{}{
			"total":     newTotal,
			"available": newAvailable,
			"occupied":  occupied,
		},
	}
	if perr := s.pub.Publish(ctx, ev); perr != nil {
		s.logger.Warn().Err(perr).Str("facility", name).Msg("publish capacity event failed")
	}
	return nil
}

// CheckConsistency compares a facility's counters with its roster.
func (s *Service) CheckConsistency(ctx context.Context, name string) (*ConsistencyReport, error) {
	f, err := s.registry.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	report := f.Consistency()
	if len(report.Problems) > 0 {
		s.logger.Warn().Str("facility", name).Strs("problems", report.Problems).Msg("facility inconsistent")
	}
	return report, nil
}

// Provision validates f and inserts it unless the name is already taken.
func (s *Service) Provision(ctx context.Context, f *Facility) (bool, error) {
	f.Name = strings.TrimSpace(f.Name)
	if err := f.Validate(); err != nil {
		return false, err
	}
	// Discharge removes roster entries by booking id, so every preloaded
	// patient needs one of their own.
	for i := range f.Roster {
		if f.Roster[i].BookingID == uuid.Nil {
			f.Roster[i].BookingID = uuid.New()
		}
	}
	created, err := s.registry.Provision(ctx, f)
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Info().Str("facility", f.Name).Int("total", f.Total).Msg("facility provisioned")
	} else {
		s.logger.Debug().Str("facility", f.Name).Msg("facility already provisioned")
	}
	return created, nil
}

// DefaultFacilities is the initial deployment's facility set.
func DefaultFacilities() []*Facility {
	return []*Facility{
		{Name: "City Hospital", Location: Location{Latitude: 12.9716, Longitude: 77.5946}, Total: 100, Available: 25, Occupied: 75},
		{Name: "General Hospital", Location: Location{Latitude: 12.9200, Longitude: 77.6200}, Total: 150, Available: 40, Occupied: 110},
		{Name: "Medical Center", Location: Location{Latitude: 13.0200, Longitude: 77.5100}, Total: 80, Available: 15, Occupied: 65},
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperr.KindOf(err))
}
