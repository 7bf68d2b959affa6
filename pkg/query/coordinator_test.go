package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdugan/esdb/pkg/consolidate"
	"github.com/jdugan/esdb/pkg/inventory"
	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
	"github.com/jdugan/esdb/pkg/storage/memory"
)

func testSetup(t *testing.T) (*inventory.Inventory, *memory.Store, *Coordinator) {
	t.Helper()

	inv := inventory.New()
	inv.AddDevice(inventory.Device{Name: "rtr1", Active: true})
	inv.AddOID(inventory.OID{Name: "ifInOctets", Type: sample.Counter32})
	inv.AddOID(inventory.OID{Name: "ifOperStatus", Type: sample.Gauge32})
	inv.AddOIDSet(inventory.OIDSet{
		Name:      "IfRefPoll",
		Frequency: 10,
		OIDs:      []string{"ifInOctets", "ifOperStatus"},
	})

	store := memory.New()
	return inv, store, NewCoordinator(inv, store)
}

func appendAll(t *testing.T, store storage.StreamStore, key storage.StreamKey, class sample.Class, samples []sample.Sample) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateStream(ctx, key, class))
	for _, s := range samples {
		require.NoError(t, store.Append(ctx, key, s))
	}
}

func TestSelect_CounterWithLookback(t *testing.T) {
	_, store, coord := testSetup(t)
	key := storage.StreamKey{Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1"}

	// sample at t=90 sits before the range but seeds the rate at t=100
	appendAll(t, store, key, sample.ClassCounter, []sample.Sample{
		{Type: sample.Counter32, Timestamp: 90, Value: 1000},
		{Type: sample.Counter32, Timestamp: 100, Value: 1100},
		{Type: sample.Counter32, Timestamp: 110, Value: 1200},
		{Type: sample.Counter32, Timestamp: 120, Value: 1300},
	})

	buckets, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1",
		Begin: 100, End: 130, Func: consolidate.Average, Resolution: 10,
	})
	require.NoError(t, err)

	// without the lookback the t=100 bucket would be missing
	require.Len(t, buckets, 3)
	assert.Equal(t, int64(100), buckets[0].Start)
	for _, b := range buckets {
		assert.Equal(t, 10.0, b.Value)
	}
}

func TestSelect_CounterWrap(t *testing.T) {
	_, store, coord := testSetup(t)
	key := storage.StreamKey{Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1"}

	appendAll(t, store, key, sample.ClassCounter, []sample.Sample{
		{Type: sample.Counter32, Timestamp: 100, Value: 4294967290},
		{Type: sample.Counter32, Timestamp: 105, Value: 4},
	})

	buckets, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1",
		Begin: 100, End: 110, Func: consolidate.Last, Resolution: 10,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2.0, buckets[0].Value)
}

func TestSelect_GaugePassthrough(t *testing.T) {
	_, store, coord := testSetup(t)
	key := storage.StreamKey{Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifOperStatus.1"}

	appendAll(t, store, key, sample.ClassGauge, []sample.Sample{
		{Type: sample.Gauge32, Timestamp: 100, Value: 1},
		{Type: sample.Gauge32, Timestamp: 110, Value: 2},
		{Type: sample.Gauge32, Timestamp: 120, Value: 1},
	})

	buckets, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifOperStatus.1",
		Begin: 100, End: 130, Func: consolidate.Max, Resolution: 30,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 2.0, buckets[0].Value)
	assert.Equal(t, 3, buckets[0].Count)
}

func TestSelect_EmptyRange(t *testing.T) {
	_, store, coord := testSetup(t)
	key := storage.StreamKey{Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1"}
	appendAll(t, store, key, sample.ClassCounter, []sample.Sample{
		{Type: sample.Counter32, Timestamp: 100, Value: 1},
	})

	buckets, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1",
		Begin: 100, End: 100, Func: consolidate.Average, Resolution: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, buckets)
	assert.NotNil(t, buckets)
}

func TestSelect_UnknownStream(t *testing.T) {
	_, _, coord := testSetup(t)

	_, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "sysUpTime",
		Begin: 0, End: 100, Func: consolidate.Average, Resolution: 10,
	})
	require.Error(t, err)

	var esdb *ESDBError
	require.ErrorAs(t, err, &esdb)
	assert.ErrorIs(t, err, storage.ErrUnknownStream)
}

func TestSelect_KnownMetricNoData(t *testing.T) {
	// resolvable in the inventory but never ingested
	_, _, coord := testSetup(t)

	_, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.9",
		Begin: 0, End: 100, Func: consolidate.Average, Resolution: 10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrUnknownStream)
}

func TestSelect_FlagsFilter(t *testing.T) {
	_, store, coord := testSetup(t)
	key := storage.StreamKey{Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifOperStatus.1"}

	appendAll(t, store, key, sample.ClassGauge, []sample.Sample{
		{Type: sample.Gauge32, Timestamp: 100, Flags: 0x1, Value: 10},
		{Type: sample.Gauge32, Timestamp: 110, Flags: 0x2, Value: 20},
		{Type: sample.Gauge32, Timestamp: 120, Flags: 0x1, Value: 30},
	})

	buckets, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifOperStatus.1",
		Begin: 100, End: 130, Flags: 0x1, Func: consolidate.Average, Resolution: 30,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 20.0, buckets[0].Value)
	assert.Equal(t, 2, buckets[0].Count)
}

func TestSelect_InvalidResolution(t *testing.T) {
	_, store, coord := testSetup(t)
	key := storage.StreamKey{Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1"}
	appendAll(t, store, key, sample.ClassCounter, []sample.Sample{
		{Type: sample.Counter32, Timestamp: 100, Value: 1},
	})

	_, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1",
		Begin: 0, End: 200, Func: consolidate.Average, Resolution: 0,
	})
	require.Error(t, err)

	var esdb *ESDBError
	require.ErrorAs(t, err, &esdb)
	var resErr *consolidate.InvalidResolutionError
	assert.ErrorAs(t, err, &resErr)
}

func TestSelect_EndBeforeBegin(t *testing.T) {
	_, _, coord := testSetup(t)

	_, err := coord.Select(context.Background(), Request{
		Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1",
		Begin: 200, End: 100, Func: consolidate.Average, Resolution: 10,
	})
	require.Error(t, err)
	var esdb *ESDBError
	assert.ErrorAs(t, err, &esdb)
}

func TestSelectGrouping(t *testing.T) {
	inv, store, coord := testSetup(t)
	inv.SetGrouping("backbone", []inventory.Member{
		{Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.1"},
		{Device: "rtr1", OIDSet: "IfRefPoll", OID: "ifInOctets.2"},
	})

	for _, oid := range []string{"ifInOctets.1", "ifInOctets.2"} {
		key := storage.StreamKey{Device: "rtr1", OIDSet: "IfRefPoll", OID: oid}
		appendAll(t, store, key, sample.ClassCounter, []sample.Sample{
			{Type: sample.Counter32, Timestamp: 100, Value: 0},
			{Type: sample.Counter32, Timestamp: 110, Value: 500},
		})
	}

	results, err := coord.SelectGrouping(context.Background(), "backbone", Request{
		Begin: 100, End: 120, Func: consolidate.Average, Resolution: 20,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.Len(t, res.Buckets, 1)
		assert.Equal(t, 50.0, res.Buckets[0].Value)
	}

	_, err = coord.SelectGrouping(context.Background(), "nope", Request{
		Begin: 0, End: 10, Func: consolidate.Average, Resolution: 10,
	})
	assert.Error(t, err)
}
