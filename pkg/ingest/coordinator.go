// Package ingest accepts poll results from the collector and appends each
// variable to its metric stream.
package ingest

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdugan/esdb/pkg/inventory"
	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
	"github.com/jdugan/esdb/pkg/streamlog"
)

// Status is the single status byte the ingest boundary returns.
type Status uint8

const (
	StatusOK            Status = 0
	StatusBadRequest    Status = 1
	StatusUnknownStream Status = 2
	StatusOutOfOrder    Status = 3
	StatusStorageError  Status = 4
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBadRequest:
		return "bad request"
	case StatusUnknownStream:
		return "unknown stream"
	case StatusOutOfOrder:
		return "out of order"
	case StatusStorageError:
		return "storage error"
	default:
		return "unknown status"
	}
}

// Var is one (name, value) pair from a polling run, both strings on the wire.
type Var struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PollResult is the batch a collector delivers for one device+oidset at one
// timestamp.
type PollResult struct {
	DeviceID  string `json:"device_id"`
	OIDSetID  string `json:"oidset_id"`
	Timestamp int64  `json:"timestamp"`
	Flags     uint32 `json:"flags"`
	Vars      []Var  `json:"vars"`
}

// Sink receives successfully stored poll results; the websocket hub and the
// streaming log both implement it.
type Sink interface {
	StorePollResult(pr PollResult)
}

// Coordinator validates poll results and appends their vars to the resolved
// streams.
type Coordinator struct {
	inv   inventory.Resolver
	store storage.StreamStore
	sinks []Sink

	varsStored atomic.Uint64

	mu        sync.Mutex
	lastStats time.Time
	lastCount uint64
}

// NewCoordinator creates an ingest coordinator. Sinks observe every
// successfully stored result.
func NewCoordinator(inv inventory.Resolver, store storage.StreamStore, sinks ...Sink) *Coordinator {
	return &Coordinator{
		inv:       inv,
		store:     store,
		sinks:     sinks,
		lastStats: time.Now(),
	}
}

// StorePollResult appends every var of one poll result. The first failing
// var determines the status; vars appended before it stay (the collector
// sees the failure and does not retry a partially stored timestamp, because
// the retry would trip the ordering check anyway).
func (c *Coordinator) StorePollResult(ctx context.Context, pr PollResult) Status {
	if pr.DeviceID == "" || pr.OIDSetID == "" || pr.Timestamp <= 0 || len(pr.Vars) == 0 {
		return StatusBadRequest
	}

	for _, v := range pr.Vars {
		key, typ, err := c.inv.Resolve(pr.DeviceID, pr.OIDSetID, v.Name)
		if err != nil {
			log.Printf("ingest: cannot resolve %s/%s/%s: %v", pr.DeviceID, pr.OIDSetID, v.Name, err)
			return StatusUnknownStream
		}

		value, err := parseValue(typ, v.Value)
		if err != nil {
			log.Printf("ingest: bad value for %s: %v", key, err)
			return StatusBadRequest
		}

		if status := c.append(ctx, key, typ, sample.Sample{
			Type:      typ,
			Timestamp: pr.Timestamp,
			Flags:     pr.Flags,
			Value:     value,
		}); status != StatusOK {
			return status
		}
	}

	c.varsStored.Add(uint64(len(pr.Vars)))
	for _, sink := range c.sinks {
		sink.StorePollResult(pr)
	}
	return StatusOK
}

func (c *Coordinator) append(ctx context.Context, key storage.StreamKey, typ sample.Type, s sample.Sample) Status {
	err := c.store.Append(ctx, key, s)
	if errors.Is(err, storage.ErrUnknownStream) {
		// first ingest creates the stream
		if cerr := c.store.CreateStream(ctx, key, sample.TypeClass(typ)); cerr != nil {
			log.Printf("ingest: failed to create stream %s: %v", key, cerr)
			return StatusStorageError
		}
		err = c.store.Append(ctx, key, s)
	}

	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, storage.ErrOutOfOrder):
		return StatusOutOfOrder
	default:
		log.Printf("ingest: append failed for %s: %v", key, err)
		return StatusStorageError
	}
}

func parseValue(typ sample.Type, raw string) (uint64, error) {
	return strconv.ParseUint(raw, 10, typ.Width())
}

// VarsStored returns the total vars appended since startup.
func (c *Coordinator) VarsStored() uint64 {
	return c.varsStored.Load()
}

// LogStats logs ingest throughput since the previous call. The server runs
// it on a ticker.
func (c *Coordinator) LogStats() {
	total := c.varsStored.Load()

	c.mu.Lock()
	elapsed := time.Since(c.lastStats).Seconds()
	count := total - c.lastCount
	c.lastCount = total
	c.lastStats = time.Now()
	c.mu.Unlock()

	if count > 0 && elapsed > 0 {
		log.Printf("ingest: %d records written, %.1f records/sec", count, float64(count)/elapsed)
	}
}

// StreamLogSink adapts a streamlog.Writer into a Sink.
type StreamLogSink struct {
	W *streamlog.Writer
}

func (s StreamLogSink) StorePollResult(pr PollResult) {
	if err := s.W.Store(pr.Timestamp, pr); err != nil {
		log.Printf("ingest: streaming log write failed: %v", err)
	}
}
