package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdugan/esdb/pkg/sample"
)

func testInventory() *Inventory {
	inv := New()
	inv.AddDevice(Device{Name: "core-rtr1", Active: true})
	inv.AddOID(OID{Name: "ifInOctets", Type: sample.Counter32})
	inv.AddOID(OID{Name: "ifHCInOctets", Type: sample.Counter64, Aggregate: true})
	inv.AddOID(OID{Name: "ifOperStatus", Type: sample.Gauge32})
	inv.AddOIDSet(OIDSet{
		Name:      "IfRefPoll",
		Frequency: 30,
		OIDs:      []string{"ifInOctets", "ifHCInOctets", "ifOperStatus"},
	})
	return inv
}

func TestResolve(t *testing.T) {
	inv := testInventory()

	key, typ, err := inv.Resolve("core-rtr1", "IfRefPoll", "ifHCInOctets.3")
	require.NoError(t, err)
	assert.Equal(t, sample.Counter64, typ)
	assert.Equal(t, "core-rtr1", key.Device)
	assert.Equal(t, "IfRefPoll", key.OIDSet)
	assert.Equal(t, "ifHCInOctets.3", key.OID, "stream key keeps the instance suffix")
}

func TestResolve_Unknown(t *testing.T) {
	inv := testInventory()

	_, _, err := inv.Resolve("no-such-device", "IfRefPoll", "ifInOctets")
	assert.ErrorIs(t, err, ErrUnknownDevice)

	_, _, err = inv.Resolve("core-rtr1", "no-such-set", "ifInOctets")
	assert.ErrorIs(t, err, ErrUnknownOIDSet)

	_, _, err = inv.Resolve("core-rtr1", "IfRefPoll", "sysUpTime")
	assert.ErrorIs(t, err, ErrUnknownOID)
}

func TestResolve_OIDNotInSet(t *testing.T) {
	inv := testInventory()
	inv.AddOID(OID{Name: "sysUpTime", Type: sample.Counter32})

	_, _, err := inv.Resolve("core-rtr1", "IfRefPoll", "sysUpTime")
	assert.ErrorIs(t, err, ErrUnknownOID)
}

func TestGrouping(t *testing.T) {
	inv := testInventory()
	inv.SetGrouping("backbone", []Member{
		{Device: "core-rtr1", OIDSet: "IfRefPoll", OID: "ifHCInOctets.1"},
		{Device: "core-rtr1", OIDSet: "IfRefPoll", OID: "ifHCInOctets.2"},
	})

	members, err := inv.Grouping("backbone")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	_, err = inv.Grouping("edge")
	assert.ErrorIs(t, err, ErrUnknownGrouping)
}

func TestBaseOID(t *testing.T) {
	assert.Equal(t, "ifInOctets", BaseOID("ifInOctets.3"))
	assert.Equal(t, "ifInOctets", BaseOID("ifInOctets.3.1"))
	assert.Equal(t, "sysUpTime", BaseOID("sysUpTime"))
}

func TestLoad(t *testing.T) {
	seed := `{
	  "devices": [{"name": "core-rtr1", "community": "public", "active": true}],
	  "oids": [
	    {"name": "ifHCInOctets", "type": "Counter64", "aggregate": true},
	    {"name": "ifOperStatus", "type": "Gauge32"}
	  ],
	  "oidsets": [{"name": "IfRefPoll", "frequency": 30, "oids": ["ifHCInOctets", "ifOperStatus"]}],
	  "groupings": {
	    "backbone": [{"device": "core-rtr1", "oidset": "IfRefPoll", "oid": "ifHCInOctets.1"}]
	  }
	}`

	path := filepath.Join(t.TempDir(), "inventory.json")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	inv, err := Load(path)
	require.NoError(t, err)

	_, typ, err := inv.Resolve("core-rtr1", "IfRefPoll", "ifHCInOctets.1")
	require.NoError(t, err)
	assert.Equal(t, sample.Counter64, typ)

	members, err := inv.Grouping("backbone")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestLoad_BadType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inventory.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"oids": [{"name": "x", "type": "OctetString"}]}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
