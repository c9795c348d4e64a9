package matching

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bedalloc/bedalloc/internal/domain/facility"
	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/metrics"
)

var origin = facility.Location{Latitude: 0, Longitude: 0}

// eastOf places a point km kilometres along the equator from origin.
func eastOf(km float64) facility.Location {
	return facility.Location{Latitude: 0, Longitude: km / (EarthRadiusKm * math.Pi / 180)}
}

type countingRegistry struct {
	facility.Registry
	reads int32
	err   error
}

func (r *countingRegistry) ListAvailable(ctx context.Context) ([]*facility.Facility, error) {
	atomic.AddInt32(&r.reads, 1)
	if r.err != nil {
		return nil, r.err
	}
	return r.Registry.ListAvailable(ctx)
}

func newTestMatcher(t *testing.T, facilities ...*facility.Facility) (*Matcher, *countingRegistry) {
	t.Helper()
	mem := facility.NewMemoryRegistry(func() time.Time { return time.Unix(0, 0) })
	for _, f := range facilities {
		if _, err := mem.Provision(context.Background(), f); err != nil {
			t.Fatalf("provision: %v", err)
		}
	}
	reg := &countingRegistry{Registry: mem}
	return NewMatcher(reg, DefaultLadder, zerolog.Nop()), reg
}

func fac(name string, loc facility.Location, available int) *facility.Facility {
	return &facility.Facility{Name: name, Location: loc, Total: available + 1, Available: available, Occupied: 1}
}

func TestMatcher_ScenarioA_SkipsFullFacility(t *testing.T) {
	m, _ := newTestMatcher(t,
		fac("X", eastOf(3.0), 5),
		fac("Y", eastOf(2.0), 0),
	)
	got, err := m.Match(context.Background(), origin, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Facility != "X" {
		t.Errorf("expected X, got %s", got.Facility)
	}
	if math.Abs(got.DistanceKm-3.0) > 1e-6 {
		t.Errorf("expected 3.0 km, got %v", got.DistanceKm)
	}
	if got.RadiusKm != 10 || got.Available != 5 {
		t.Errorf("unexpected match %+v", got)
	}
}

func TestMatcher_ScenarioB_TieFavoursMoreCapacity(t *testing.T) {
	m, _ := newTestMatcher(t,
		fac("Two", eastOf(4.0), 2),
		fac("Six", eastOf(-4.0), 6),
	)
	got, err := m.Match(context.Background(), origin, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Facility != "Six" {
		t.Errorf("expected Six, got %s", got.Facility)
	}
}

func TestMatcher_TieOnDistanceAndCapacityUsesName(t *testing.T) {
	m, _ := newTestMatcher(t,
		fac("Beta", eastOf(4.0), 3),
		fac("Alpha", eastOf(-4.0), 3),
	)
	got, _ := m.Match(context.Background(), origin, 10)
	if got == nil || got.Facility != "Alpha" {
		t.Errorf("expected Alpha, got %+v", got)
	}
}

func TestMatcher_NearestWins(t *testing.T) {
	m, _ := newTestMatcher(t,
		fac("Far", eastOf(8.0), 50),
		fac("Near", eastOf(1.0), 1),
		fac("Mid", eastOf(-5.0), 10),
	)
	got, _ := m.FindNearest(context.Background(), origin, 10)
	if got == nil || got.Facility != "Near" {
		t.Errorf("expected Near, got %+v", got)
	}
}

func TestMatcher_EscalatesThroughLadder(t *testing.T) {
	m, reg := newTestMatcher(t, fac("Distant", eastOf(25), 4))

	got, err := m.Match(context.Background(), origin, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.RadiusKm != 30 {
		t.Errorf("expected the 30 km rung to match, got %v", got.RadiusKm)
	}
	if reg.reads != 1 {
		t.Errorf("expected one registry read for the whole ladder, got %d", reg.reads)
	}
}

func TestMatcher_NotFoundBeyondLargestRung(t *testing.T) {
	m, _ := newTestMatcher(t, fac("TooFar", eastOf(35), 4))

	_, err := m.Match(context.Background(), origin, 10)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	// A caller radius above the ladder is still honoured.
	got, err := m.Match(context.Background(), origin, 40)
	if err != nil || got.Facility != "TooFar" {
		t.Errorf("expected match at 40 km, got %+v %v", got, err)
	}
}

func TestMatcher_FindNearestDoesNotEscalate(t *testing.T) {
	m, _ := newTestMatcher(t, fac("Distant", eastOf(12), 4))
	if _, err := m.FindNearest(context.Background(), origin, 10); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestMatcher_InvalidInput(t *testing.T) {
	m, reg := newTestMatcher(t)
	tests := []struct {
		loc    facility.Location
		radius float64
	}{
		{facility.Location{Latitude: 91}, 10},
		{facility.Location{Longitude: math.NaN()}, 10},
		{origin, 0},
		{origin, -3},
		{origin, math.Inf(1)},
	}
	for _, tt := range tests {
		if _, err := m.Match(context.Background(), tt.loc, tt.radius); !errors.Is(err, apperr.ErrInvalidRequest) {
			t.Errorf("Match(%+v, %v): expected InvalidRequest, got %v", tt.loc, tt.radius, err)
		}
	}
	if reg.reads != 0 {
		t.Error("invalid requests should not reach the registry")
	}
}

func TestMatcher_StoreUnavailable(t *testing.T) {
	m, reg := newTestMatcher(t)
	reg.err = apperr.ErrStoreUnavailable
	if _, err := m.Match(context.Background(), origin, 10); !apperr.Retryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
}

func TestNearest_ExactRadiusIsIncluded(t *testing.T) {
	f := fac("Edge", eastOf(5), 1)
	d := DistanceKm(origin, f.Location)
	if got := nearest([]*facility.Facility{f}, origin, d); got == nil {
		t.Error("a facility exactly at the radius should match")
	}
}

func scrapeMatchSeries(t *testing.T, mt *metrics.Metrics) []string {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), rec)
	if err := mt.Handler()(c); err != nil {
		t.Fatalf("scrape: %v", err)
	}
	var series []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "bedalloc_matches_total{") {
			series = append(series, line)
		}
	}
	return series
}

func TestMatcher_MetricLabelsStayBounded(t *testing.T) {
	m, _ := newTestMatcher(t, fac("Near", eastOf(1), 3))
	mt := metrics.New()
	m.SetMetrics(mt)

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		if _, err := m.Match(ctx, origin, 5+float64(i)*0.001); err != nil {
			t.Fatalf("match %d: %v", i, err)
		}
	}
	series := scrapeMatchSeries(t, mt)
	if len(series) != 1 {
		t.Fatalf("expected 1 series for 1000 caller radii, got %d:\n%s", len(series), strings.Join(series, "\n"))
	}
	if !strings.Contains(series[0], `rung="requested"`) || !strings.HasSuffix(series[0], " 1000") {
		t.Errorf("unexpected series %q", series[0])
	}
}

func TestMatcher_MetricLabelsNameLadderRungs(t *testing.T) {
	m, _ := newTestMatcher(t, fac("Far", eastOf(18), 3))
	mt := metrics.New()
	m.SetMetrics(mt)

	ctx := context.Background()
	for _, r := range []float64{1, 2.5, 7.25} {
		if _, err := m.Match(ctx, origin, r); err != nil {
			t.Fatalf("match at %v: %v", r, err)
		}
	}
	series := scrapeMatchSeries(t, mt)
	if len(series) != 1 || !strings.Contains(series[0], `outcome="found",rung="20"} 3`) {
		t.Errorf("expected escalations counted under rung 20, got %v", series)
	}
}
