package runkv

import "errors"

var (
	// ErrKeyNotFound reports a key with no backing run.
	ErrKeyNotFound = errors.New("runkv: key not found")

	// ErrKeyConflict reports more than one live run for a key. Writers
	// honoring the entry invariant never produce this.
	ErrKeyConflict = errors.New("runkv: conflicting runs for key")

	// ErrCapacity reports a write attempted at the searchable-result
	// threshold, beyond which key enumeration can silently miss
	// entries.
	ErrCapacity = errors.New("runkv: dictionary at capacity")

	// ErrReadOnly reports a mutation on a read-only dictionary.
	ErrReadOnly = errors.New("runkv: dictionary is read-only")

	// ErrNotImplemented reports an operation this package refuses to
	// emulate.
	ErrNotImplemented = errors.New("runkv: not implemented")
)
