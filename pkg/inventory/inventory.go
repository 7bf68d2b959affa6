// Package inventory holds the device/OIDSet/OID metadata the engine resolves
// stream keys against. The engine treats every identifier here as opaque; the
// inventory is the only component that knows what a device or OID is.
package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jdugan/esdb/pkg/sample"
	"github.com/jdugan/esdb/pkg/storage"
)

var (
	ErrUnknownDevice   = errors.New("unknown device")
	ErrUnknownOIDSet   = errors.New("unknown oidset")
	ErrUnknownOID      = errors.New("unknown oid")
	ErrUnknownGrouping = errors.New("unknown grouping")
)

// Device is a polled network device.
type Device struct {
	Name      string `json:"name"`
	Community string `json:"community,omitempty"`
	Active    bool   `json:"active"`
}

// OID is a single polled variable definition. Type declares the sample type
// every stream of this OID carries.
type OID struct {
	Name      string      `json:"name"`
	Type      sample.Type `json:"-"`
	TypeName  string      `json:"type"`
	Aggregate bool        `json:"aggregate,omitempty"`
}

// OIDSet is a named group of OIDs polled together at one frequency.
type OIDSet struct {
	Name      string   `json:"name"`
	Frequency int64    `json:"frequency"` // polling interval, seconds
	OIDs      []string `json:"oids"`
}

// Member is one (device, oidset, oid) element of a grouping.
type Member struct {
	Device string `json:"device"`
	OIDSet string `json:"oidset"`
	OID    string `json:"oid"`
}

// Resolver is the slice of the inventory the query and ingest coordinators
// depend on.
type Resolver interface {
	// Resolve maps (device, oidset, oid) to a stream key and the declared
	// sample type. The oid may carry an instance suffix ("ifInOctets.3");
	// the type lookup uses the base name, the stream key keeps the full name.
	Resolve(device, oidset, oid string) (storage.StreamKey, sample.Type, error)

	// Grouping returns the members of a named grouping.
	Grouping(name string) ([]Member, error)
}

// Inventory is a concurrency-safe in-memory inventory, seeded from a JSON
// file or populated over the management API. First writer creates, reads
// dominate afterward.
type Inventory struct {
	mu        sync.RWMutex
	devices   map[string]Device
	oids      map[string]OID
	oidsets   map[string]OIDSet
	groupings map[string][]Member
}

// New creates an empty inventory.
func New() *Inventory {
	return &Inventory{
		devices:   make(map[string]Device),
		oids:      make(map[string]OID),
		oidsets:   make(map[string]OIDSet),
		groupings: make(map[string][]Member),
	}
}

// seedFile mirrors the esxsnmp config shape: flat record lists plus named
// groupings.
type seedFile struct {
	Devices   []Device            `json:"devices"`
	OIDs      []OID               `json:"oids"`
	OIDSets   []OIDSet            `json:"oidsets"`
	Groupings map[string][]Member `json:"groupings"`
}

// Load reads an inventory seed from a JSON file.
func Load(path string) (*Inventory, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}

	var seed seedFile
	if err := json.Unmarshal(buf, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}

	inv := New()
	for _, d := range seed.Devices {
		inv.AddDevice(d)
	}
	for _, o := range seed.OIDs {
		t, err := sample.ParseType(o.TypeName)
		if err != nil {
			return nil, fmt.Errorf("oid %s: %w", o.Name, err)
		}
		o.Type = t
		inv.AddOID(o)
	}
	for _, s := range seed.OIDSets {
		inv.AddOIDSet(s)
	}
	for name, members := range seed.Groupings {
		inv.SetGrouping(name, members)
	}
	return inv, nil
}

func (inv *Inventory) AddDevice(d Device) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.devices[d.Name] = d
}

func (inv *Inventory) Device(name string) (Device, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	d, ok := inv.devices[name]
	if !ok {
		return Device{}, fmt.Errorf("%s: %w", name, ErrUnknownDevice)
	}
	return d, nil
}

func (inv *Inventory) Devices() []Device {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]Device, 0, len(inv.devices))
	for _, d := range inv.devices {
		out = append(out, d)
	}
	return out
}

func (inv *Inventory) AddOID(o OID) {
	if o.TypeName == "" {
		o.TypeName = o.Type.String()
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.oids[o.Name] = o
}

func (inv *Inventory) OID(name string) (OID, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	o, ok := inv.oids[name]
	if !ok {
		return OID{}, fmt.Errorf("%s: %w", name, ErrUnknownOID)
	}
	return o, nil
}

func (inv *Inventory) OIDs() []OID {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]OID, 0, len(inv.oids))
	for _, o := range inv.oids {
		out = append(out, o)
	}
	return out
}

func (inv *Inventory) AddOIDSet(s OIDSet) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.oidsets[s.Name] = s
}

func (inv *Inventory) OIDSet(name string) (OIDSet, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	s, ok := inv.oidsets[name]
	if !ok {
		return OIDSet{}, fmt.Errorf("%s: %w", name, ErrUnknownOIDSet)
	}
	return s, nil
}

func (inv *Inventory) OIDSets() []OIDSet {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]OIDSet, 0, len(inv.oidsets))
	for _, s := range inv.oidsets {
		out = append(out, s)
	}
	return out
}

func (inv *Inventory) SetGrouping(name string, members []Member) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.groupings[name] = members
}

func (inv *Inventory) Grouping(name string) ([]Member, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	m, ok := inv.groupings[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownGrouping)
	}
	out := make([]Member, len(m))
	copy(out, m)
	return out, nil
}

// Resolve implements Resolver.
func (inv *Inventory) Resolve(device, oidset, oid string) (storage.StreamKey, sample.Type, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	if _, ok := inv.devices[device]; !ok {
		return storage.StreamKey{}, 0, fmt.Errorf("%s: %w", device, ErrUnknownDevice)
	}
	set, ok := inv.oidsets[oidset]
	if !ok {
		return storage.StreamKey{}, 0, fmt.Errorf("%s: %w", oidset, ErrUnknownOIDSet)
	}

	base := BaseOID(oid)
	rec, ok := inv.oids[base]
	if !ok {
		return storage.StreamKey{}, 0, fmt.Errorf("%s: %w", base, ErrUnknownOID)
	}

	member := false
	for _, name := range set.OIDs {
		if name == base {
			member = true
			break
		}
	}
	if !member {
		return storage.StreamKey{}, 0, fmt.Errorf("%s not in oidset %s: %w", base, oidset, ErrUnknownOID)
	}

	return storage.StreamKey{Device: device, OIDSet: oidset, OID: oid}, rec.Type, nil
}

// BaseOID strips the instance suffix from a polled variable name:
// "ifInOctets.3" -> "ifInOctets". Names without an instance pass through.
func BaseOID(name string) string {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i]
	}
	return name
}

var _ Resolver = (*Inventory)(nil)
