package sample

import (
	"encoding/binary"
	"fmt"
)

// Wire format, big-endian:
//
//	[version 1B][type 1B][flags 4B][timestamp 8B][value 4B or 8B]
//
// 32-bit types carry a 4-byte value, Counter64 an 8-byte value. The version
// byte lets older and newer encodings coexist in one stream; decoders reject
// versions they do not know rather than guessing.

// Version is the wire-format version written by Encode.
const Version = 1

const headerSize = 1 + 1 + 4 + 8

// CorruptSampleError reports stored bytes that cannot be decoded: unknown
// version or type tag, or a byte length that does not match the tag's fixed
// size.
type CorruptSampleError struct {
	Reason string
}

func (e *CorruptSampleError) Error() string {
	return "corrupt sample: " + e.Reason
}

// EncodedSize returns the encoded byte length for a type tag.
func EncodedSize(t Type) int {
	if t == Counter64 {
		return headerSize + 8
	}
	return headerSize + 4
}

// Encode serializes a sample to its fixed binary layout.
func Encode(s Sample) ([]byte, error) {
	if !s.Type.Valid() {
		return nil, &CorruptSampleError{Reason: fmt.Sprintf("unknown type tag %d", s.Type)}
	}
	if s.Type.Width() == 32 && s.Value > 0xFFFFFFFF {
		return nil, &CorruptSampleError{Reason: fmt.Sprintf("value %d overflows %s", s.Value, s.Type)}
	}

	buf := make([]byte, EncodedSize(s.Type))
	buf[0] = Version
	buf[1] = byte(s.Type)
	binary.BigEndian.PutUint32(buf[2:6], s.Flags)
	binary.BigEndian.PutUint64(buf[6:14], uint64(s.Timestamp))
	if s.Type == Counter64 {
		binary.BigEndian.PutUint64(buf[14:22], s.Value)
	} else {
		binary.BigEndian.PutUint32(buf[14:18], uint32(s.Value))
	}
	return buf, nil
}

// Decode deserializes a sample from its fixed binary layout. It fails with
// *CorruptSampleError when the bytes cannot be a well-formed sample.
func Decode(buf []byte) (Sample, error) {
	if len(buf) < 2 {
		return Sample{}, &CorruptSampleError{Reason: fmt.Sprintf("short buffer (%d bytes)", len(buf))}
	}
	if buf[0] != Version {
		return Sample{}, &CorruptSampleError{Reason: fmt.Sprintf("unknown version %d", buf[0])}
	}
	t := Type(buf[1])
	if !t.Valid() {
		return Sample{}, &CorruptSampleError{Reason: fmt.Sprintf("unknown type tag %d", buf[1])}
	}
	if len(buf) != EncodedSize(t) {
		return Sample{}, &CorruptSampleError{
			Reason: fmt.Sprintf("%s sample is %d bytes, want %d", t, len(buf), EncodedSize(t)),
		}
	}

	s := Sample{
		Type:      t,
		Flags:     binary.BigEndian.Uint32(buf[2:6]),
		Timestamp: int64(binary.BigEndian.Uint64(buf[6:14])),
	}
	if t == Counter64 {
		s.Value = binary.BigEndian.Uint64(buf[14:22])
	} else {
		s.Value = uint64(binary.BigEndian.Uint32(buf[14:18]))
	}
	return s, nil
}
