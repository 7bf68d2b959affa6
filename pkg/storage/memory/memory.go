package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
)

// DefaultChunkSpan mirrors the badger backend's chunk width.
const DefaultChunkSpan = 24 * 60 * 60

// Store implements storage.StreamStore in memory. Data is lost on restart;
// useful for testing and development.
type Store struct {
	mu      sync.RWMutex
	streams map[storage.StreamKey]*stream
	span    int64
}

type stream struct {
	mu      sync.Mutex // serializes appends per stream
	info    storage.StreamInfo
	samples []sample.Sample
}

// New creates an in-memory stream store.
func New() *Store {
	return &Store{
		streams: make(map[storage.StreamKey]*stream),
		span:    DefaultChunkSpan,
	}
}

// NewWithChunkSpan creates an in-memory store with a custom chunk width,
// used by rotation tests.
func NewWithChunkSpan(span int64) *Store {
	s := New()
	s.span = span
	return s
}

// CreateStream registers a stream, first-writer-creates.
func (s *Store) CreateStream(ctx context.Context, key storage.StreamKey, class sample.Class) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[key]; ok {
		if st.info.Class != class {
			return fmt.Errorf("stream %s is %s: %w", key, st.info.Class, storage.ErrTypeMismatch)
		}
		return nil
	}
	s.streams[key] = &stream{info: storage.StreamInfo{Key: key, Class: class}}
	return nil
}

// StreamInfo returns the registry record for a stream.
func (s *Store) StreamInfo(ctx context.Context, key storage.StreamKey) (storage.StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.StreamInfo{}, err
	}

	st, err := s.stream(key)
	if err != nil {
		return storage.StreamInfo{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.info, nil
}

// Append stores one sample, enforcing class and strict timestamp ordering.
func (s *Store) Append(ctx context.Context, key storage.StreamKey, smp sample.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st, err := s.stream(key)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if sample.TypeClass(smp.Type) != st.info.Class {
		return fmt.Errorf("%s sample on %s stream %s: %w",
			smp.Type, st.info.Class, key, storage.ErrTypeMismatch)
	}
	if st.info.Samples > 0 && smp.Timestamp <= st.info.LastTimestamp {
		return fmt.Errorf("append %s at %d, last is %d: %w",
			key, smp.Timestamp, st.info.LastTimestamp, storage.ErrOutOfOrder)
	}

	st.samples = append(st.samples, smp)
	if st.info.Samples == 0 {
		st.info.FirstTimestamp = smp.Timestamp
	}
	st.info.LastTimestamp = smp.Timestamp
	st.info.Samples++
	return nil
}

// ScanRange returns a scanner over a snapshot taken at scan start; appends
// after the call are not observed by the scanner.
func (s *Store) ScanRange(ctx context.Context, key storage.StreamKey, begin, end int64) (storage.Scanner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	st, err := s.stream(key)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	lo := sort.Search(len(st.samples), func(i int) bool { return st.samples[i].Timestamp >= begin })
	hi := sort.Search(len(st.samples), func(i int) bool { return st.samples[i].Timestamp > end })
	snap := make([]sample.Sample, hi-lo)
	copy(snap, st.samples[lo:hi])
	st.mu.Unlock()

	return &scanner{samples: snap, pos: -1}, nil
}

type scanner struct {
	samples []sample.Sample
	pos     int
}

func (sc *scanner) Next() bool {
	if sc.pos+1 >= len(sc.samples) {
		return false
	}
	sc.pos++
	return true
}

func (sc *scanner) Sample() sample.Sample { return sc.samples[sc.pos] }
func (sc *scanner) Err() error            { return nil }
func (sc *scanner) Close()                {}

// SampleBefore returns the latest sample strictly before ts.
func (s *Store) SampleBefore(ctx context.Context, key storage.StreamKey, ts int64) (sample.Sample, bool, error) {
	if err := ctx.Err(); err != nil {
		return sample.Sample{}, false, err
	}

	st, err := s.stream(key)
	if err != nil {
		return sample.Sample{}, false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	i := sort.Search(len(st.samples), func(i int) bool { return st.samples[i].Timestamp >= ts })
	if i == 0 {
		return sample.Sample{}, false, nil
	}
	return st.samples[i-1], true, nil
}

// LastTimestamp returns the stream's append cursor.
func (s *Store) LastTimestamp(ctx context.Context, key storage.StreamKey) (int64, bool, error) {
	info, err := s.StreamInfo(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return info.LastTimestamp, info.Samples > 0, nil
}

// Stats summarizes store contents.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{}
	for _, st := range s.streams {
		st.mu.Lock()
		info := st.info
		st.mu.Unlock()

		stats.TotalStreams++
		stats.TotalSamples += info.Samples
		if info.Samples == 0 {
			continue
		}
		if stats.OldestSample == 0 || info.FirstTimestamp < stats.OldestSample {
			stats.OldestSample = info.FirstTimestamp
		}
		if info.LastTimestamp > stats.NewestSample {
			stats.NewestSample = info.LastTimestamp
		}
	}
	return stats, nil
}

// Close is a no-op for the memory backend.
func (s *Store) Close() error { return nil }

// ColdChunks enumerates chunk-aligned slices fully older than cutoff.
func (s *Store) ColdChunks(ctx context.Context, cutoff int64) ([]storage.ChunkRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	keys := make([]storage.StreamKey, 0, len(s.streams))
	for k := range s.streams {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var refs []storage.ChunkRef
	for _, key := range keys {
		st, err := s.stream(key)
		if err != nil {
			continue
		}

		st.mu.Lock()
		var last int64 = -1
		for _, smp := range st.samples {
			start := smp.Timestamp - mod(smp.Timestamp, s.span)
			if start+s.span > cutoff {
				break
			}
			if start != last {
				refs = append(refs, storage.ChunkRef{Key: key, Start: start, Span: s.span})
				last = start
			}
		}
		st.mu.Unlock()
	}
	return refs, nil
}

// ChunkSamples reads every sample in a chunk.
func (s *Store) ChunkSamples(ctx context.Context, ref storage.ChunkRef) ([]sample.Sample, error) {
	sc, err := s.ScanRange(ctx, ref.Key, ref.Start, ref.Start+ref.Span-1)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	var samples []sample.Sample
	for sc.Next() {
		samples = append(samples, sc.Sample())
	}
	return samples, nil
}

// DropChunk removes a chunk's samples, keeping the append cursor intact.
func (s *Store) DropChunk(ctx context.Context, ref storage.ChunkRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	st, err := s.stream(ref.Key)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	end := ref.Start + ref.Span
	kept := st.samples[:0]
	for _, smp := range st.samples {
		if smp.Timestamp >= ref.Start && smp.Timestamp < end {
			continue
		}
		kept = append(kept, smp)
	}
	st.samples = kept
	st.info.Samples = uint64(len(kept))
	if len(kept) == 0 {
		st.info.FirstTimestamp = 0
	} else {
		st.info.FirstTimestamp = kept[0].Timestamp
	}
	return nil
}

func (s *Store) stream(key storage.StreamKey) (*stream, error) {
	s.mu.RLock()
	st, ok := s.streams[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("stream %s: %w", key, storage.ErrUnknownStream)
	}
	return st, nil
}

func mod(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

var (
	_ storage.StreamStore = (*Store)(nil)
	_ storage.Archiver    = (*Store)(nil)
)
