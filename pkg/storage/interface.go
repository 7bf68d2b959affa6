package storage

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/jdugan/esdb/pkg/sample"
)

// StreamKey identifies one metric stream: a single polled variable on one
// device. The engine treats the three parts as opaque inventory identifiers.
type StreamKey struct {
	Device string `json:"device"`
	OIDSet string `json:"oidset"`
	OID    string `json:"oid"`
}

// String renders the key in the device/oidset/oid path form used in logs and
// archive file names.
func (k StreamKey) String() string {
	return k.Device + "/" + k.OIDSet + "/" + k.OID
}

// Hash returns a stable 64-bit hash of the key, used as the key prefix so
// samples of one stream are contiguous and time-sorted on disk.
func (k StreamKey) Hash() uint64 {
	d := xxhash.New()
	d.WriteString(k.Device)
	d.Write([]byte{0})
	d.WriteString(k.OIDSet)
	d.Write([]byte{0})
	d.WriteString(k.OID)
	return d.Sum64()
}

// StreamInfo is the persisted registry record for a stream. The class is
// fixed at creation; counters and gauges never mix in one stream.
type StreamInfo struct {
	Key            StreamKey    `json:"key"`
	Class          sample.Class `json:"class"`
	FirstTimestamp int64        `json:"first_timestamp,omitempty"`
	LastTimestamp  int64        `json:"last_timestamp,omitempty"`
	Samples        uint64       `json:"samples"`
}

// Scanner is a lazy, forward-only pass over one stream's samples in ascending
// timestamp order. A Scanner is not restartable; a fresh ScanRange call makes
// a new one. Callers must Close it to release the underlying snapshot.
type Scanner interface {
	// Next advances to the next sample, returning false at the end of the
	// range or on error.
	Next() bool

	// Sample returns the current sample. Only valid after Next returned true.
	Sample() sample.Sample

	// Err returns the error that stopped iteration, if any. A corrupt stored
	// sample surfaces here so a caller never mistakes a truncated scan for a
	// complete one.
	Err() error

	Close()
}

// StreamStore is the durable, append-only, time-ordered store backing the
// engine. Implementations: badger (production), memory (testing).
//
// Append for a given stream is serialized by the store; appends to different
// streams proceed in parallel. Scans observe a consistent snapshot taken at
// scan start and never block writers.
type StreamStore interface {
	// CreateStream registers a stream with its type class. Creating an
	// existing stream is a no-op if the class matches and ErrTypeMismatch if
	// it does not.
	CreateStream(ctx context.Context, key StreamKey, class sample.Class) error

	// StreamInfo returns the registry record, or ErrUnknownStream if the
	// stream has never been created.
	StreamInfo(ctx context.Context, key StreamKey) (StreamInfo, error)

	// Append persists one sample. It fails with ErrUnknownStream if the
	// stream does not exist, ErrTypeMismatch if the sample's class does not
	// match the stream's, and ErrOutOfOrder if the timestamp is not strictly
	// newer than the stream's last. The sample is durable before a nil
	// return.
	Append(ctx context.Context, key StreamKey, s sample.Sample) error

	// ScanRange returns a scanner over samples with begin <= ts <= end.
	ScanRange(ctx context.Context, key StreamKey, begin, end int64) (Scanner, error)

	// SampleBefore returns the latest sample with timestamp < ts, used to
	// seed rate derivation at a query range's left edge. ok is false when no
	// such sample exists.
	SampleBefore(ctx context.Context, key StreamKey, ts int64) (s sample.Sample, ok bool, err error)

	// LastTimestamp returns the stream's append cursor without scanning.
	// ok is false for a stream that exists but holds no samples yet.
	LastTimestamp(ctx context.Context, key StreamKey) (ts int64, ok bool, err error)

	// Stats summarizes store contents.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// Stats provides store health and usage info.
type Stats struct {
	TotalSamples uint64 `json:"total_samples"`
	TotalStreams uint64 `json:"total_streams"`
	SizeBytes    uint64 `json:"size_bytes"`
	OldestSample int64  `json:"oldest_sample,omitempty"`
	NewestSample int64  `json:"newest_sample,omitempty"`
}

// ChunkRef names one chunk-span-aligned slice of a stream, the unit the
// rotation process moves from the fast tier to the slow tier.
type ChunkRef struct {
	Key   StreamKey
	Start int64 // chunk start, aligned to the store's chunk span
	Span  int64
}

// Archiver is the rotation-facing view of a store: enumerate chunks whose
// entire span is older than a cutoff, read them, and drop them once archived.
// Closed chunks are immutable; rotation never reorders or rewrites samples.
type Archiver interface {
	ColdChunks(ctx context.Context, cutoff int64) ([]ChunkRef, error)
	ChunkSamples(ctx context.Context, ref ChunkRef) ([]sample.Sample, error)
	DropChunk(ctx context.Context, ref ChunkRef) error
}
