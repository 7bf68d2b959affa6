package sample

import "fmt"

// Type tags the wire representation of a single observation.
type Type uint8

const (
	// Counter32 is a monotonically increasing 32-bit counter (e.g. ifInOctets).
	Counter32 Type = 1
	// Counter64 is a monotonically increasing 64-bit counter (e.g. ifHCInOctets).
	Counter64 Type = 2
	// Gauge32 is a point-in-time 32-bit measurement (e.g. ifOperStatus).
	Gauge32 Type = 3
)

// String returns a human-readable representation of the type tag.
func (t Type) String() string {
	switch t {
	case Counter32:
		return "counter32"
	case Counter64:
		return "counter64"
	case Gauge32:
		return "gauge32"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is a known type tag.
func (t Type) Valid() bool {
	return t == Counter32 || t == Counter64 || t == Gauge32
}

// Width returns the value width in bits.
func (t Type) Width() int {
	if t == Counter64 {
		return 64
	}
	return 32
}

// Class represents the broad category of a type: counters are differenced
// into rates, gauges are consolidated as-is. A stream never mixes classes.
type Class uint8

const (
	ClassCounter Class = 1
	ClassGauge   Class = 2
)

func (c Class) String() string {
	switch c {
	case ClassCounter:
		return "counter"
	case ClassGauge:
		return "gauge"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// TypeClass returns the class a type tag belongs to.
func TypeClass(t Type) Class {
	if t == Gauge32 {
		return ClassGauge
	}
	return ClassCounter
}

// ParseType maps an inventory type name to a type tag.
func ParseType(name string) (Type, error) {
	switch name {
	case "Counter32", "counter32":
		return Counter32, nil
	case "Counter64", "counter64":
		return Counter64, nil
	case "Gauge32", "gauge32":
		return Gauge32, nil
	default:
		return 0, fmt.Errorf("unknown sample type %q", name)
	}
}

// Sample is a single typed observation on a metric stream.
//
// Timestamp is unix seconds. Flags is an opaque bitset assigned by the
// collector; the engine stores and returns it unchanged. Value holds the raw
// counter or gauge reading; for 32-bit types only the low 32 bits are
// meaningful and the codec enforces that on encode.
type Sample struct {
	Type      Type   `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Flags     uint32 `json:"flags"`
	Value     uint64 `json:"value"`
}
