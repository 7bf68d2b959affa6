package storage

import "errors"

var (
	// ErrUnknownStream is returned for a stream that has never been created.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrOutOfOrder is returned when an appended timestamp is not strictly
	// newer than the stream's last stored timestamp. Duplicate delivery from
	// the collector lands here too; it is a client-visible failure, never
	// silently absorbed.
	ErrOutOfOrder = errors.New("timestamp not newer than stream's last")

	// ErrTypeMismatch is returned when a sample's type class does not match
	// the class the stream was created with.
	ErrTypeMismatch = errors.New("sample type class does not match stream")
)
