package world

import "errors"

var (
	// ErrSpawnFailure is returned when no free position was found within the
	// spawn retry bound.
	ErrSpawnFailure = errors.New("spawn failure: no free position")

	ErrDuplicateBodyID    = errors.New("duplicate body id")
	ErrPerceptionNotReady = errors.New("perception not ready")
	ErrBodyNotFound       = errors.New("body not found")
	ErrStopped            = errors.New("environment stopped")

	// ErrUnknownInfluence aborts the step that tried to resolve it.
	ErrUnknownInfluence = errors.New("unknown influence kind")

	// ErrNoEmitter is returned for endogenous influences that only make sense
	// when a body submits them.
	ErrNoEmitter = errors.New("influence requires an emitting body")
)
