// Package rate converts ascending counter samples into per-second rates,
// handling counter wraparound and irregular polling intervals.
package rate

import (
	"errors"
	"fmt"
	"math"

	"github.com/jdugan/esdb/pkg/sample"
)

var (
	// ErrDegenerateInterval reports two samples with a non-positive time
	// delta. The stream store's strict ordering makes this unreachable, but
	// the division is defended at this boundary anyway.
	ErrDegenerateInterval = errors.New("non-positive interval between samples")

	// ErrMixedWidth reports a sequence mixing counter widths; a stream holds
	// exactly one counter type, so this indicates a caller bug.
	ErrMixedWidth = errors.New("mixed counter types in one sequence")

	// ErrNotCounter reports a gauge sample fed to the rate engine. Gauges
	// bypass rate derivation; their raw value is already the thing to
	// consolidate.
	ErrNotCounter = errors.New("sample is not a counter")
)

// Point is a derived rate value at a point in time. Points are never stored;
// they exist only on the query path.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Deriver turns a stream of counter samples into rate points, one pair of
// consecutive samples at a time. The zero value is ready to use. The first
// sample fed produces no point: there is nothing to difference against, which
// is why the query coordinator fetches one extra sample before the range.
type Deriver struct {
	prev sample.Sample
	has  bool
}

// Feed consumes the next sample. ok is false while the deriver has no prior
// sample to difference against.
func (d *Deriver) Feed(s sample.Sample) (p Point, ok bool, err error) {
	if sample.TypeClass(s.Type) != sample.ClassCounter {
		return Point{}, false, fmt.Errorf("%s at %d: %w", s.Type, s.Timestamp, ErrNotCounter)
	}

	if !d.has {
		d.prev, d.has = s, true
		return Point{}, false, nil
	}

	if s.Type != d.prev.Type {
		return Point{}, false, fmt.Errorf("%s after %s: %w", s.Type, d.prev.Type, ErrMixedWidth)
	}

	dt := s.Timestamp - d.prev.Timestamp
	if dt <= 0 {
		return Point{}, false, fmt.Errorf("dt=%d at %d: %w", dt, s.Timestamp, ErrDegenerateInterval)
	}

	p = Point{
		Timestamp: s.Timestamp,
		Value:     delta(d.prev, s) / float64(dt),
	}
	d.prev = s
	return p, true, nil
}

// delta computes the counter difference modulo the counter's width. A value
// decrease is treated as exactly one wraparound:
//
//	delta = (2^W - prev) + cur
//
// which for uint64 arithmetic is cur-prev masked to the counter width. A
// genuine device reset looks identical to a wrap and is not second-guessed
// here; filtering the resulting spike is the caller's policy (see the
// consolidator's max-rate filter).
func delta(prev, cur sample.Sample) float64 {
	d := cur.Value - prev.Value
	if cur.Type.Width() == 32 {
		d &= math.MaxUint32
	}
	return float64(d)
}

// Points derives rates for a whole ascending sample slice. The result has
// len(samples)-1 points (or none for fewer than two samples).
func Points(samples []sample.Sample) ([]Point, error) {
	if len(samples) < 2 {
		// still validate what we were given
		var d Deriver
		for _, s := range samples {
			if _, _, err := d.Feed(s); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	points := make([]Point, 0, len(samples)-1)
	var d Deriver
	for _, s := range samples {
		p, ok, err := d.Feed(s)
		if err != nil {
			return nil, err
		}
		if ok {
			points = append(points, p)
		}
	}
	return points, nil
}
