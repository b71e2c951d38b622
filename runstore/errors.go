package runstore

import "errors"

// MaxSearchResults is the largest number of runs a single search may
// return. Stores clamp search requests to this bound; callers that
// need to detect saturation compare the result length against it.
const MaxSearchResults = 50000

var (
	// ErrNotFound marks a missing experiment, run or artifact.
	ErrNotFound = errors.New("runstore: not found")
	// ErrDeleted marks a run that exists but was soft deleted.
	ErrDeleted = errors.New("runstore: run deleted")
)
