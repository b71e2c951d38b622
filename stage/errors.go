package stage

import "errors"

var (
	// ErrNotProduced reports that an acquisition body finished without
	// creating the local artifact and nothing was loaded in its place.
	ErrNotProduced = errors.New("stage: artifact not produced")

	// ErrNoDestination reports that an upload had no explicit
	// destination run and no fallback destination is set.
	ErrNoDestination = errors.New("stage: no destination run")
)
