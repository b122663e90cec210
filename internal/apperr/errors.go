// Package apperr defines the sentinel errors shared across Perth subsystems.
package apperr

import "errors"

var (
	// ErrNotFound means an operation referenced an entity id absent from the
	// local store. Always surfaced to the caller.
	ErrNotFound = errors.New("not found")

	// ErrStorageFailure means the local store rejected a write. Fatal to the
	// triggering operation; never retried silently.
	ErrStorageFailure = errors.New("storage failure")

	// ErrRemoteFailure means a network or backend error during push or pull.
	// Recovered by retry on the next sync trigger; never fatal to the local
	// operation that originated it.
	ErrRemoteFailure = errors.New("remote failure")

	// ErrAuthRequired means sync was attempted with no authenticated owner.
	ErrAuthRequired = errors.New("auth required")

	// ErrFolderCycle means a folder reparent would make the parent chain
	// cyclic.
	ErrFolderCycle = errors.New("folder cycle")
)
