package matching

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Ladder is the ascending list of fallback search radii in km tried after the
// caller's own radius finds nothing.
type Ladder []float64

// DefaultLadder matches the original deployment's 15, 20, 30 km fallbacks.
var DefaultLadder = Ladder{15, 20, 30}

// ParseLadder reads a comma separated list such as "15,20,30". The result is
// sorted and de-duplicated.
func ParseLadder(s string) (Ladder, error) {
	var l Ladder
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid radius %q: %w", part, err)
		}
		if err := validRadius(v); err != nil {
			return nil, err
		}
		l = append(l, v)
	}
	if len(l) == 0 {
		return nil, fmt.Errorf("radius ladder is empty")
	}
	return l.normalized(), nil
}

func (l Ladder) normalized() Ladder {
	out := append(Ladder(nil), l...)
	sort.Float64s(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

// Radii returns the radii to try for a caller radius: first, then every
// rung strictly larger than it.
func (l Ladder) Radii(first float64) []float64 {
	radii := []float64{first}
	for _, r := range l.normalized() {
		if r > first {
			radii = append(radii, r)
		}
	}
	return radii
}

// rungLabel names r for metrics: the rung itself when r is on the ladder,
// otherwise "requested". Caller radii never become label values.
func (l Ladder) rungLabel(r float64) string {
	for _, v := range l {
		if v == r {
			return formatKm(v)
		}
	}
	return "requested"
}

func (l Ladder) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func validRadius(r float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return fmt.Errorf("radius must be a positive finite number of km, got %v", r)
	}
	return nil
}
