package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
)

// Rotation view of the store. Samples are grouped into chunk-span-aligned
// chunks; a chunk is cold once its whole span is older than the cutoff. Cold
// chunks are closed by construction: appends only ever land past the stream's
// last timestamp, so nothing can be written into them again.

// ColdChunks enumerates every chunk whose entire span is older than cutoff,
// across all streams.
func (s *Store) ColdChunks(ctx context.Context, cutoff int64) ([]storage.ChunkRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var streams []storage.StreamInfo
	if err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = []byte{metaPrefix}
		it := txn.NewIterator(iopts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var info storage.StreamInfo
			if err := json.Unmarshal(val, &info); err != nil {
				return fmt.Errorf("corrupt stream record: %w", err)
			}
			// prefilter on the aligned start of the first chunk; the raw
			// FirstTimestamp can sit anywhere inside it
			first := info.FirstTimestamp - mod(info.FirstTimestamp, s.span)
			if info.Samples > 0 && first+s.span <= cutoff {
				streams = append(streams, info)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var refs []storage.ChunkRef
	for _, info := range streams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hash := info.Key.Hash()
		err := s.db.View(func(txn *badger.Txn) error {
			iopts := badger.DefaultIteratorOptions
			iopts.Prefix = streamPrefix(hash)
			iopts.PrefetchValues = false
			it := txn.NewIterator(iopts)
			defer it.Close()

			var last int64 = -1
			for it.Rewind(); it.Valid(); it.Next() {
				ts := sampleKeyTimestamp(it.Item().Key())
				start := ts - mod(ts, s.span)
				if start+s.span > cutoff {
					break // keys ascend, nothing colder follows
				}
				if start != last {
					refs = append(refs, storage.ChunkRef{Key: info.Key, Start: start, Span: s.span})
					last = start
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return refs, nil
}

// ChunkSamples reads every sample in a chunk, in timestamp order.
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
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// DropChunk deletes a chunk's samples and advances the stream's first-sample
// marker. The append cursor is untouched so the ordering invariant holds for
// data the rotation has already moved to the slow tier.
func (s *Store) DropChunk(ctx context.Context, ref storage.ChunkRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	hash := ref.Key.Hash()
	mu := s.streamLock(hash)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		info, err := readInfo(txn, hash)
		if err != nil {
			return err
		}

		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = streamPrefix(hash)
		iopts.PrefetchValues = false
		it := txn.NewIterator(iopts)

		var dropped uint64
		var nextFirst int64
		end := ref.Start + ref.Span
		for it.Seek(sampleKey(hash, ref.Start)); it.Valid(); it.Next() {
			ts := sampleKeyTimestamp(it.Item().Key())
			if ts >= end {
				nextFirst = ts
				break
			}
			if err := txn.Delete(it.Item().KeyCopy(nil)); err != nil {
				it.Close()
				return err
			}
			dropped++
		}
		it.Close()

		if dropped == 0 {
			return nil
		}
		if dropped > info.Samples {
			return errors.New("chunk drop exceeds stream sample count")
		}
		info.Samples -= dropped
		if info.Samples == 0 {
			info.FirstTimestamp = 0
		} else if nextFirst > info.FirstTimestamp {
			info.FirstTimestamp = nextFirst
		}
		return writeInfo(txn, info)
	})
}

func mod(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

var _ storage.Archiver = (*Store)(nil)
