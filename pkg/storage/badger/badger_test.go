package badger

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdugan/esdb/pkg/consolidate"
	"github.com/jdugan/esdb/pkg/inventory"
	"github.com/jdugan/esdb/pkg/query"
	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{InMemory: true, ChunkSpan: 100})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testKey(oid string) storage.StreamKey {
	return storage.StreamKey{Device: "rtr1", OIDSet: "IfRefPoll", OID: oid}
}

func counterAt(ts int64, v uint64) sample.Sample {
	return sample.Sample{Type: sample.Counter64, Timestamp: ts, Value: v}
}

func TestAppendAndScan(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	key := testKey("ifHCInOctets.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.Append(ctx, key, counterAt(1000+i*30, uint64(i)*300)))
	}

	sc, err := s.ScanRange(ctx, key, 1030, 1090)
	require.NoError(t, err)
	defer sc.Close()

	var got []sample.Sample
	for sc.Next() {
		got = append(got, sc.Sample())
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, 3)
	assert.Equal(t, int64(1030), got[0].Timestamp)
	assert.Equal(t, uint64(300), got[0].Value)
	assert.Equal(t, int64(1090), got[2].Timestamp)

	info, err := s.StreamInfo(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, sample.ClassCounter, info.Class)
	assert.Equal(t, int64(1000), info.FirstTimestamp)
	assert.Equal(t, int64(1120), info.LastTimestamp)
	assert.Equal(t, uint64(5), info.Samples)
}

func TestAppendOrdering(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	key := testKey("ifHCInOctets.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	require.NoError(t, s.Append(ctx, key, counterAt(1000, 1)))

	assert.ErrorIs(t, s.Append(ctx, key, counterAt(1000, 2)), storage.ErrOutOfOrder)
	assert.ErrorIs(t, s.Append(ctx, key, counterAt(970, 2)), storage.ErrOutOfOrder)

	// rejected appends leave the cursor intact
	require.NoError(t, s.Append(ctx, key, counterAt(1030, 2)))
}

func TestAppendClassMismatch(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	key := testKey("ifOperStatus.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassGauge))
	err := s.Append(ctx, key, counterAt(1000, 1))
	assert.ErrorIs(t, err, storage.ErrTypeMismatch)

	err = s.CreateStream(ctx, key, sample.ClassCounter)
	assert.ErrorIs(t, err, storage.ErrTypeMismatch)
}

func TestUnknownStream(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	key := testKey("nope.1")

	_, err := s.StreamInfo(ctx, key)
	assert.ErrorIs(t, err, storage.ErrUnknownStream)

	assert.ErrorIs(t, s.Append(ctx, key, counterAt(1000, 1)), storage.ErrUnknownStream)

	_, err = s.ScanRange(ctx, key, 0, 2000)
	assert.ErrorIs(t, err, storage.ErrUnknownStream)

	_, _, err = s.SampleBefore(ctx, key, 1000)
	assert.ErrorIs(t, err, storage.ErrUnknownStream)
}

func TestSampleBefore(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	key := testKey("ifHCInOctets.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	require.NoError(t, s.Append(ctx, key, counterAt(1000, 10)))
	require.NoError(t, s.Append(ctx, key, counterAt(1030, 20)))
	require.NoError(t, s.Append(ctx, key, counterAt(1060, 30)))

	smp, ok, err := s.SampleBefore(ctx, key, 1060)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1030), smp.Timestamp)
	assert.Equal(t, uint64(20), smp.Value)

	// strictly before: the sample at ts itself does not qualify
	_, ok, err = s.SampleBefore(ctx, key, 1000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanSnapshot(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	key := testKey("ifHCInOctets.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	require.NoError(t, s.Append(ctx, key, counterAt(1000, 1)))

	sc, err := s.ScanRange(ctx, key, 0, 5000)
	require.NoError(t, err)
	defer sc.Close()

	require.NoError(t, s.Append(ctx, key, counterAt(1030, 2)))

	var n int
	for sc.Next() {
		n++
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 1, n)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := testKey("ifHCInOctets.1")

	s, err := New(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	require.NoError(t, s.Append(ctx, key, counterAt(1000, 10)))
	require.NoError(t, s.Append(ctx, key, counterAt(1030, 20)))
	require.NoError(t, s.Close())

	s, err = New(Config{Path: dir})
	require.NoError(t, err)
	defer s.Close()

	info, err := s.StreamInfo(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Samples)
	assert.Equal(t, int64(1030), info.LastTimestamp)

	// the cursor survives restart, so stale appends still bounce
	assert.ErrorIs(t, s.Append(ctx, key, counterAt(1030, 30)), storage.ErrOutOfOrder)
	require.NoError(t, s.Append(ctx, key, counterAt(1060, 30)))
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	k1 := testKey("ifHCInOctets.1")
	k2 := testKey("ifHCInOctets.2")
	require.NoError(t, s.CreateStream(ctx, k1, sample.ClassCounter))
	require.NoError(t, s.CreateStream(ctx, k2, sample.ClassCounter))
	require.NoError(t, s.Append(ctx, k1, counterAt(1000, 1)))
	require.NoError(t, s.Append(ctx, k1, counterAt(1030, 2)))
	require.NoError(t, s.Append(ctx, k2, counterAt(1090, 3)))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalStreams)
	assert.Equal(t, uint64(3), stats.TotalSamples)
	assert.Equal(t, int64(1000), stats.OldestSample)
	assert.Equal(t, int64(1090), stats.NewestSample)
}

func TestScanAbortsOnCorruptSample(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	key := testKey("ifHCInOctets.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	for _, ts := range []int64{1000, 1030, 1060} {
		require.NoError(t, s.Append(ctx, key, counterAt(ts, uint64(ts))))
	}

	// overwrite the middle sample's stored bytes with garbage
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sampleKey(key.Hash(), 1030), []byte{0xFF, 0x01, 0x00})
	}))

	sc, err := s.ScanRange(ctx, key, 0, 5000)
	require.NoError(t, err)
	defer sc.Close()

	var got []int64
	for sc.Next() {
		got = append(got, sc.Sample().Timestamp)
	}

	// the scan stops at the bad record instead of skipping past it
	var corrupt *sample.CorruptSampleError
	require.ErrorAs(t, sc.Err(), &corrupt)
	assert.Equal(t, []int64{1000}, got)
}

func TestSelectFailsOnCorruptSample(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	key := testKey("ifHCInOctets.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	for _, ts := range []int64{1000, 1030, 1060} {
		require.NoError(t, s.Append(ctx, key, counterAt(ts, uint64(ts))))
	}
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sampleKey(key.Hash(), 1030), []byte{0xFF, 0x01, 0x00})
	}))

	inv := inventory.New()
	inv.AddDevice(inventory.Device{Name: "rtr1", Active: true})
	inv.AddOID(inventory.OID{Name: "ifHCInOctets", Type: sample.Counter64})
	inv.AddOIDSet(inventory.OIDSet{Name: "IfRefPoll", Frequency: 30, OIDs: []string{"ifHCInOctets"}})

	coord := query.NewCoordinator(inv, s)
	_, err := coord.Select(ctx, query.Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifHCInOctets.1",
		Begin: 0, End: 5000, Func: consolidate.Average, Resolution: 30,
	})
	require.Error(t, err)

	// the whole query fails rather than returning a truncated series
	var esdb *query.ESDBError
	require.ErrorAs(t, err, &esdb)
	var corrupt *sample.CorruptSampleError
	assert.ErrorAs(t, err, &corrupt)
}

func TestColdChunksAndDrop(t *testing.T) {
	ctx := context.Background()
	s := testStore(t) // chunk span 100
	key := testKey("ifHCInOctets.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	for _, ts := range []int64{110, 150, 210, 310} {
		require.NoError(t, s.Append(ctx, key, counterAt(ts, uint64(ts))))
	}

	refs, err := s.ColdChunks(ctx, 300)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, int64(100), refs[0].Start)
	assert.Equal(t, int64(200), refs[1].Start)

	samples, err := s.ChunkSamples(ctx, refs[0])
	require.NoError(t, err)
	require.Len(t, samples, 2)

	require.NoError(t, s.DropChunk(ctx, refs[0]))

	info, err := s.StreamInfo(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Samples)
	assert.Equal(t, int64(210), info.FirstTimestamp)
	assert.Equal(t, int64(310), info.LastTimestamp)

	// dropped samples are gone from scans
	sc, err := s.ScanRange(ctx, key, 0, 5000)
	require.NoError(t, err)
	defer sc.Close()
	var got []int64
	for sc.Next() {
		got = append(got, sc.Sample().Timestamp)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []int64{210, 310}, got)
}

func TestColdChunksUnalignedFirstSample(t *testing.T) {
	ctx := context.Background()
	s := testStore(t) // chunk span 100
	key := testKey("ifHCInOctets.1")

	require.NoError(t, s.CreateStream(ctx, key, sample.ClassCounter))
	require.NoError(t, s.Append(ctx, key, counterAt(190, 1)))
	require.NoError(t, s.Append(ctx, key, counterAt(250, 2)))

	// the first sample sits late in its chunk, but the chunk starts at 100
	// and [100,200) is entirely behind the cutoff
	refs, err := s.ColdChunks(ctx, 200)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, int64(100), refs[0].Start)

	samples, err := s.ChunkSamples(ctx, refs[0])
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int64(190), samples[0].Timestamp)
}
