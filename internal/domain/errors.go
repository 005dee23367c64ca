package domain

import "errors"

// Error kinds surfaced by the service. Callers match them with errors.Is;
// the underlying cause stays wrapped next to the kind.
var (
	// ErrValidation indicates bad input or malformed configuration.
	// No state is changed when it is returned.
	ErrValidation = errors.New("validation error")

	// ErrEmbedding indicates the embedding provider failed or returned a
	// vector of the wrong dimension.
	ErrEmbedding = errors.New("embedding error")

	// ErrStore indicates the metadata store refused a read or write.
	ErrStore = errors.New("store error")

	// ErrDurability indicates a durable mirror flush failed. The in-memory
	// state is still usable.
	ErrDurability = errors.New("durability error")

	// ErrInconsistency indicates the vector index or document cache disagreed
	// with the metadata store on load.
	ErrInconsistency = errors.New("inconsistency")

	// ErrNotFound indicates a requested document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrModelMismatch indicates the data directory was written by a
	// different embedding model or dimension.
	ErrModelMismatch = errors.New("embedding model mismatch")
)
