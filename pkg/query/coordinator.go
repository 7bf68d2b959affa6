// Package query orchestrates range queries end to end: stream resolution,
// scan, rate derivation for counters, and consolidation to the requested
// resolution.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/jdugan/esdb/pkg/consolidate"
	"github.com/jdugan/esdb/pkg/inventory"
	"github.com/jdugan/esdb/pkg/rate"
	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
)

// ESDBError is the single generic error the query boundary exposes. Internal
// errors are specific; callers outside the engine get one descriptive string.
type ESDBError struct {
	What string
	err  error
}

func (e *ESDBError) Error() string { return e.What }

// Unwrap keeps the cause reachable for errors.Is classification at the HTTP
// layer and in tests.
func (e *ESDBError) Unwrap() error { return e.err }

func esdbErr(err error, format string, args ...interface{}) error {
	return &ESDBError{What: fmt.Sprintf(format, args...), err: err}
}

// errInvalidRange classifies a malformed time range for the HTTP layer.
var errInvalidRange = errors.New("invalid time range")

// Request is one range query.
type Request struct {
	Device string `json:"device"`
	OIDSet string `json:"oidset"`
	OID    string `json:"oid"`

	Begin int64 `json:"begin_time"`
	End   int64 `json:"end_time"`

	// Flags filters participating samples when nonzero: a sample is kept if
	// it shares at least one bit with the mask. Semantics of the bits are
	// collector-defined and opaque here.
	Flags uint32 `json:"flags,omitempty"`

	Func       consolidate.Func `json:"-"`
	Resolution int64            `json:"resolution"`

	// MaxRate clips implausible rates from counter resets; 0 disables.
	MaxRate float64 `json:"max_rate,omitempty"`
}

// Coordinator drives the read path: Stream Store scan, Rate Engine,
// Consolidator.
type Coordinator struct {
	inv   inventory.Resolver
	store storage.StreamStore
}

// NewCoordinator creates a query coordinator.
func NewCoordinator(inv inventory.Resolver, store storage.StreamStore) *Coordinator {
	return &Coordinator{inv: inv, store: store}
}

// Select runs one range query and returns consolidated buckets covering
// [Begin, End). Every failure surfaces as *ESDBError.
func (c *Coordinator) Select(ctx context.Context, req Request) ([]consolidate.Bucket, error) {
	if req.End < req.Begin {
		return nil, esdbErr(errInvalidRange, "end_time %d before begin_time %d", req.End, req.Begin)
	}
	if req.Begin == req.End {
		// an empty range is an empty answer, not an error
		return []consolidate.Bucket{}, nil
	}

	key, typ, err := c.inv.Resolve(req.Device, req.OIDSet, req.OID)
	if err != nil {
		return nil, esdbErr(storage.ErrUnknownStream, "no stream for %s/%s/%s: %v",
			req.Device, req.OIDSet, req.OID, err)
	}

	samples, err := c.fetch(ctx, key, typ, req)
	if err != nil {
		return nil, err
	}

	var points []rate.Point
	if sample.TypeClass(typ) == sample.ClassCounter {
		points, err = rate.Points(samples)
		if err != nil {
			return nil, esdbErr(err, "rate derivation failed for %s: %v", key, err)
		}
	} else {
		// gauges bypass the rate engine; the raw value is the thing to
		// consolidate
		points = make([]rate.Point, 0, len(samples))
		for _, s := range samples {
			points = append(points, rate.Point{Timestamp: s.Timestamp, Value: float64(s.Value)})
		}
	}

	buckets, err := consolidate.Consolidate(points, req.Begin, req.End, req.Resolution,
		req.Func, consolidate.Options{MaxRate: req.MaxRate})
	if err != nil {
		return nil, esdbErr(err, "consolidation failed for %s: %v", key, err)
	}
	if buckets == nil {
		buckets = []consolidate.Bucket{}
	}
	return buckets, nil
}

// fetch scans [Begin, End] and, for counters, prepends the sample
// immediately preceding Begin so the deriver can produce a rate inside the
// range's first bucket.
func (c *Coordinator) fetch(ctx context.Context, key storage.StreamKey, typ sample.Type, req Request) ([]sample.Sample, error) {
	var samples []sample.Sample

	if sample.TypeClass(typ) == sample.ClassCounter {
		prev, ok, err := c.store.SampleBefore(ctx, key, req.Begin)
		if err != nil {
			if errors.Is(err, storage.ErrUnknownStream) {
				return nil, esdbErr(err, "no data for stream %s", key)
			}
			return nil, esdbErr(err, "lookback failed for %s: %v", key, err)
		}
		if ok && c.keep(prev, req.Flags) {
			samples = append(samples, prev)
		}
	}

	sc, err := c.store.ScanRange(ctx, key, req.Begin, req.End)
	if err != nil {
		if errors.Is(err, storage.ErrUnknownStream) {
			return nil, esdbErr(err, "no data for stream %s", key)
		}
		return nil, esdbErr(err, "scan failed for %s: %v", key, err)
	}
	defer sc.Close()

	for sc.Next() {
		if s := sc.Sample(); c.keep(s, req.Flags) {
			samples = append(samples, s)
		}
	}
	if err := sc.Err(); err != nil {
		// a malformed sample aborts the whole query; a caller must never get
		// a result that looks complete but is missing a point
		return nil, esdbErr(err, "scan aborted for %s: %v", key, err)
	}
	return samples, nil
}

func (c *Coordinator) keep(s sample.Sample, mask uint32) bool {
	return mask == 0 || s.Flags&mask != 0
}

// GroupResult is one grouping member's consolidated series.
type GroupResult struct {
	Member  inventory.Member     `json:"member"`
	Buckets []consolidate.Bucket `json:"buckets"`
}

// SelectGrouping runs the Select path for every member of a named grouping.
// One member failing fails the whole call; a partial bulk answer would be
// indistinguishable from a complete one.
func (c *Coordinator) SelectGrouping(ctx context.Context, grouping string, req Request) ([]GroupResult, error) {
	members, err := c.inv.Grouping(grouping)
	if err != nil {
		return nil, esdbErr(storage.ErrUnknownStream, "grouping %s: %v", grouping, err)
	}

	results := make([]GroupResult, 0, len(members))
	for _, m := range members {
		mreq := req
		mreq.Device, mreq.OIDSet, mreq.OID = m.Device, m.OIDSet, m.OID

		buckets, err := c.Select(ctx, mreq)
		if err != nil {
			return nil, err
		}
		results = append(results, GroupResult{Member: m, Buckets: buckets})
	}
	return results, nil
}
