// Package matching finds the nearest facility with a free bed.
//
// Candidates are facilities with available > 0 within the search radius.
// The winner minimises distance; equal distances favour the facility with
// more available beds, and remaining ties go to the lexicographically first
// name so that results are deterministic.
package matching

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/metrics"
)

// Match is the facility chosen for a location. The counters are a snapshot
// and may be stale by the time a booking is attempted.
type Match struct {
	Facility   string            `json:"facility"`
	FacilityID string            `json:"facility_id"`
	Location   facility.Location `json:"location"`
	Available  int               `json:"available"`
	DistanceKm float64           `json:"distance_km"`
	RadiusKm   float64           `json:"radius_km"`
}

type Matcher struct {
	registry facility.Registry
	ladder   Ladder
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewMatcher(registry facility.Registry, ladder Ladder, logger zerolog.Logger) *Matcher {
	if len(ladder) == 0 {
		ladder = DefaultLadder
	}
	return &Matcher{
		registry: registry,
		ladder:   ladder.normalized(),
		logger:   logger.With().Str("component", "matcher").Logger(),
	}
}

// SetMetrics attaches optional Prometheus metrics.
func (m *Matcher) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

func (m *Matcher) Ladder() Ladder { return m.ladder }

// FindNearest searches a single radius.
func (m *Matcher) FindNearest(ctx context.Context, loc facility.Location, radiusKm float64) (*Match, error) {
	if err := validateQuery(loc, radiusKm); err != nil {
		return nil, err
	}
	candidates, err := m.registry.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}
	if best := nearest(candidates, loc, radiusKm); best != nil {
		return best, nil
	}
	return nil, fmt.Errorf("%w within %g km", apperr.ErrNotFound, radiusKm)
}

// Match searches radiusKm first and then each larger rung of the ladder. One
// registry read serves the whole walk.
func (m *Matcher) Match(ctx context.Context, loc facility.Location, radiusKm float64) (*Match, error) {
	if err := validateQuery(loc, radiusKm); err != nil {
		return nil, err
	}
	candidates, err := m.registry.ListAvailable(ctx)
	if err != nil {
		m.metrics.ObserveMatch(string(apperr.KindOf(err)), "none")
		return nil, err
	}

	radii := m.ladder.Radii(radiusKm)
	for _, r := range radii {
		if best := nearest(candidates, loc, r); best != nil {
			m.logger.Debug().
				Str("facility", best.Facility).
				Float64("distance_km", best.DistanceKm).
				Float64("radius_km", r).
				Msg("match found")
			m.metrics.ObserveMatch("found", m.ladder.rungLabel(r))
			return best, nil
		}
	}

	largest := radii[len(radii)-1]
	m.metrics.ObserveMatch(string(apperr.KindNotFound), m.ladder.rungLabel(largest))
	return nil, fmt.Errorf("%w within %g km", apperr.ErrNotFound, largest)
}

func validateQuery(loc facility.Location, radiusKm float64) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	if err := validRadius(radiusKm); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidRequest, err)
	}
	return nil
}

// nearest returns the best candidate within radiusKm, or nil.
func nearest(candidates []*facility.Facility, loc facility.Location, radiusKm float64) *Match {
	var best *Match
	for _, f := range candidates {
		if f.Available <= 0 {
			continue
		}
		d := DistanceKm(loc, f.Location)
		if d > radiusKm {
			continue
		}
		m := &Match{
			Facility:   f.Name,
			FacilityID: f.ID,
			Location:   f.Location,
			Available:  f.Available,
			DistanceKm: d,
			RadiusKm:   radiusKm,
		}
		if best == nil || better(m, best) {
			best = m
		}
	}
	return best
}

func better(a, b *Match) bool {
	if a.DistanceKm != b.DistanceKm {
		return a.DistanceKm < b.DistanceKm
	}
	if a.Available != b.Available {
		return a.Available > b.Available
	}
	return a.Facility < b.Facility
}

func formatKm(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}
