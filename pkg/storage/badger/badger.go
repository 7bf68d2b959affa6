package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
)

// Key layout, all big-endian so per-stream samples iterate in timestamp
// order:
//
//	s[stream hash 8B][timestamp 8B] -> encoded sample
//	m[stream hash 8B]               -> StreamInfo JSON
//
// The stream hash keeps one stream's samples contiguous; the timestamp
// suffix makes range scans a simple seek + walk.
const (
	samplePrefix = 's'
	metaPrefix   = 'm'

	sampleKeyLen = 1 + 8 + 8
)

// DefaultChunkSpan groups samples into day-aligned chunks for rotation.
const DefaultChunkSpan = 24 * 60 * 60

// Store implements storage.StreamStore on BadgerDB (LSM tree).
type Store struct {
	db   *badger.DB
	span int64

	// per-stream append locks, populated on first touch
	locks sync.Map // uint64 -> *sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = 48 MB default).
	MaxMemoryMB int64

	// ChunkSpan is the chunk width in seconds for rotation grouping
	// (0 = DefaultChunkSpan). Chunk boundaries are internal; readers never
	// see them.
	ChunkSpan int64

	// NoSync disables synchronous writes. Only for tests; the append
	// durability contract requires sync on.
	NoSync bool
}

// New opens a BadgerDB-backed stream store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Same conservative memory bounds the poller boxes run with: badger's
	// defaults assume far more RAM than a telemetry host has to spare.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	opts = opts.
		WithSyncWrites(!cfg.NoSync && !cfg.InMemory).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueThreshold(1024).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	span := cfg.ChunkSpan
	if span <= 0 {
		span = DefaultChunkSpan
	}

	return &Store{db: db, span: span}, nil
}

// CreateStream registers a stream, first-writer-creates. Re-creating with the
// same class is a no-op.
func (s *Store) CreateStream(ctx context.Context, key storage.StreamKey, class sample.Class) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mu := s.streamLock(key.Hash())
	mu.Lock()
	defer mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		info, err := readInfo(txn, key.Hash())
		if err == nil {
			if info.Class != class {
				return fmt.Errorf("stream %s is %s: %w", key, info.Class, storage.ErrTypeMismatch)
			}
			return nil
		}
		if !errors.Is(err, storage.ErrUnknownStream) {
			return err
		}
		return writeInfo(txn, storage.StreamInfo{Key: key, Class: class})
	})
}

// StreamInfo returns the registry record for a stream.
func (s *Store) StreamInfo(ctx context.Context, key storage.StreamKey) (storage.StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return storage.StreamInfo{}, err
	}

	var info storage.StreamInfo
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		info, err = readInfo(txn, key.Hash())
		return err
	})
	return info, err
}

// Append persists one sample. The transaction commits the sample and the
// stream cursor together, and with sync writes on the commit is durable
// before Append returns.
func (s *Store) Append(ctx context.Context, key storage.StreamKey, smp sample.Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	hash := key.Hash()
	mu := s.streamLock(hash)
	mu.Lock()
	defer mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		info, err := readInfo(txn, hash)
		if err != nil {
			return err
		}
		if sample.TypeClass(smp.Type) != info.Class {
			return fmt.Errorf("%s sample on %s stream %s: %w",
				smp.Type, info.Class, key, storage.ErrTypeMismatch)
		}
		if info.Samples > 0 && smp.Timestamp <= info.LastTimestamp {
			return fmt.Errorf("append %s at %d, last is %d: %w",
				key, smp.Timestamp, info.LastTimestamp, storage.ErrOutOfOrder)
		}

		val, err := sample.Encode(smp)
		if err != nil {
			return err
		}
		if err := txn.Set(sampleKey(hash, smp.Timestamp), val); err != nil {
			return err
		}

		if info.Samples == 0 {
			info.FirstTimestamp = smp.Timestamp
		}
		info.LastTimestamp = smp.Timestamp
		info.Samples++
		return writeInfo(txn, info)
	})
}

// ScanRange returns a lazy scanner over begin <= ts <= end. The scanner holds
// a read-only transaction, giving snapshot-at-scan-start semantics without
// blocking writers.
func (s *Store) ScanRange(ctx context.Context, key storage.StreamKey, begin, end int64) (storage.Scanner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := key.Hash()
	if err := s.db.View(func(txn *badger.Txn) error {
		_, err := readInfo(txn, hash)
		return err
	}); err != nil {
		return nil, err
	}

	txn := s.db.NewTransaction(false)
	iopts := badger.DefaultIteratorOptions
	iopts.Prefix = streamPrefix(hash)

	return &scanner{
		txn:   txn,
		it:    txn.NewIterator(iopts),
		seek:  sampleKey(hash, begin),
		hash:  hash,
		end:   end,
		first: true,
	}, nil
}

type scanner struct {
	txn   *badger.Txn
	it    *badger.Iterator
	seek  []byte
	hash  uint64
	end   int64
	first bool

	cur    sample.Sample
	err    error
	closed bool
}

func (sc *scanner) Next() bool {
	if sc.err != nil || sc.closed {
		return false
	}

	if sc.first {
		sc.it.Seek(sc.seek)
		sc.first = false
	} else {
		sc.it.Next()
	}

	if !sc.it.Valid() {
		return false
	}

	item := sc.it.Item()
	if ts := sampleKeyTimestamp(item.Key()); ts > sc.end {
		return false
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		sc.err = err
		return false
	}
	smp, err := sample.Decode(val)
	if err != nil {
		// abort the scan; a partial result must never look complete
		sc.err = err
		return false
	}
	sc.cur = smp
	return true
}

func (sc *scanner) Sample() sample.Sample { return sc.cur }

func (sc *scanner) Err() error { return sc.err }

func (sc *scanner) Close() {
	if sc.closed {
		return
	}
	sc.closed = true
	sc.it.Close()
	sc.txn.Discard()
}

// SampleBefore returns the latest sample strictly before ts.
func (s *Store) SampleBefore(ctx context.Context, key storage.StreamKey, ts int64) (sample.Sample, bool, error) {
	if err := ctx.Err(); err != nil {
		return sample.Sample{}, false, err
	}
	if ts <= 0 {
		return sample.Sample{}, false, nil
	}

	hash := key.Hash()
	var smp sample.Sample
	var found bool

	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := readInfo(txn, hash); err != nil {
			return err
		}

		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = streamPrefix(hash)
		iopts.Reverse = true
		it := txn.NewIterator(iopts)
		defer it.Close()

		// reverse seek lands on the greatest key <= seek target
		it.Seek(sampleKey(hash, ts-1))
		if !it.Valid() {
			return nil
		}

		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		smp, err = sample.Decode(val)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return smp, found, err
}

// LastTimestamp returns the stream's append cursor.
func (s *Store) LastTimestamp(ctx context.Context, key storage.StreamKey) (int64, bool, error) {
	info, err := s.StreamInfo(ctx, key)
	if err != nil {
		return 0, false, err
	}
	return info.LastTimestamp, info.Samples > 0, nil
}

// Stats walks the stream registry. Sample data is not touched.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
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
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsm, vlog := s.db.Size()
	stats.SizeBytes = uint64(lsm + vlog)
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection to reclaim space freed
// by chunk rotation.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close shuts down BadgerDB cleanly, flushing pending writes.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) streamLock(hash uint64) *sync.Mutex {
	if mu, ok := s.locks.Load(hash); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := s.locks.LoadOrStore(hash, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func streamPrefix(hash uint64) []byte {
	p := make([]byte, 9)
	p[0] = samplePrefix
	binary.BigEndian.PutUint64(p[1:9], hash)
	return p
}

func sampleKey(hash uint64, ts int64) []byte {
	k := make([]byte, sampleKeyLen)
	k[0] = samplePrefix
	binary.BigEndian.PutUint64(k[1:9], hash)
	binary.BigEndian.PutUint64(k[9:17], uint64(ts))
	return k
}

func sampleKeyTimestamp(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[9:17]))
}

func metaKey(hash uint64) []byte {
	k := make([]byte, 9)
	k[0] = metaPrefix
	binary.BigEndian.PutUint64(k[1:9], hash)
	return k
}

func readInfo(txn *badger.Txn, hash uint64) (storage.StreamInfo, error) {
	var info storage.StreamInfo

	item, err := txn.Get(metaKey(hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return info, storage.ErrUnknownStream
	}
	if err != nil {
		return info, err
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(val, &info); err != nil {
		return info, fmt.Errorf("corrupt stream record: %w", err)
	}
	return info, nil
}

func writeInfo(txn *badger.Txn, info storage.StreamInfo) error {
	val, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return txn.Set(metaKey(info.Key.Hash()), val)
}

var _ storage.StreamStore = (*Store)(nil)
