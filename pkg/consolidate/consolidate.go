// Package consolidate resamples rate or gauge point sequences into
// fixed-width buckets, RRD-style: a requested resolution plus one of the
// consolidation functions average, min, max or last.
package consolidate

import (
	"fmt"
	"strings"

	"github.com/jdugan/esdb/pkg/rate"
)

// Func is a consolidation function.
type Func int

const (
	Average Func = iota + 1
	Min
	Max
	Last
)

// String returns the canonical function name.
func (f Func) String() string {
	switch f {
	case Average:
		return "average"
	case Min:
		return "min"
	case Max:
		return "max"
	case Last:
		return "last"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// InvalidFuncError reports an unrecognized consolidation function name.
type InvalidFuncError struct {
	Name string
}

func (e *InvalidFuncError) Error() string {
	return fmt.Sprintf("invalid consolidation function %q", e.Name)
}

// InvalidResolutionError reports a non-positive bucket width.
type InvalidResolutionError struct {
	Resolution int64
}

func (e *InvalidResolutionError) Error() string {
	return fmt.Sprintf("invalid resolution %d, must be > 0", e.Resolution)
}

// ParseFunc maps a request's cf name to a Func. Matching is
// case-insensitive; "avg" is accepted as a synonym for "average".
func ParseFunc(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "average", "avg":
		return Average, nil
	case "min":
		return Min, nil
	case "max":
		return Max, nil
	case "last":
		return Last, nil
	default:
		return 0, &InvalidFuncError{Name: name}
	}
}

// Bucket is one consolidated output point. Start is the bucket's left edge;
// Count is how many input points landed in it.
type Bucket struct {
	Start int64   `json:"timestamp"`
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// Options tunes consolidation beyond the required (resolution, fn) pair.
type Options struct {
	// MaxRate drops input points whose value exceeds it before bucketing.
	// Zero disables the filter. This is the wrap-vs-reset policy knob: a
	// device reboot shows up as one implausibly large rate, and an operator
	// who knows the link ceiling can clip it here.
	MaxRate float64
}

// Consolidate resamples ascending points into buckets of resolution seconds
// covering [begin, end). Bucket k spans [begin+k*res, begin+(k+1)*res). A
// bucket with no input points is absent from the output; callers must treat
// missing buckets as no data, never as zero.
func Consolidate(points []rate.Point, begin, end, resolution int64, fn Func, opts Options) ([]Bucket, error) {
	if resolution <= 0 {
		return nil, &InvalidResolutionError{Resolution: resolution}
	}
	switch fn {
	case Average, Min, Max, Last:
	default:
		return nil, &InvalidFuncError{Name: fn.String()}
	}

	var buckets []Bucket
	cur := -1 // index into buckets for the bucket being filled
	var curStart int64
	var sum float64

	for _, p := range points {
		if p.Timestamp < begin || p.Timestamp >= end {
			continue
		}
		if opts.MaxRate > 0 && p.Value > opts.MaxRate {
			continue
		}

		start := begin + (p.Timestamp-begin)/resolution*resolution
		if cur < 0 || start != curStart {
			// points ascend, so a new start means a new bucket
			buckets = append(buckets, Bucket{Start: start})
			cur = len(buckets) - 1
			curStart = start
			sum = 0
		}

		b := &buckets[cur]
		b.Count++
		switch fn {
		case Average:
			sum += p.Value
			b.Value = sum / float64(b.Count)
		case Min:
			if b.Count == 1 || p.Value < b.Value {
				b.Value = p.Value
			}
		case Max:
			if b.Count == 1 || p.Value > b.Value {
				b.Value = p.Value
			}
		case Last:
			b.Value = p.Value
		}
	}

	return buckets, nil
}
