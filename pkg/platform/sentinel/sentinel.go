package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Backends and stores return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: row does not exist in the backing table
// - ErrConflict: write collided with an existing row
// - ErrInvalidState: component in wrong state for requested operation
// - ErrUnavailable: backend or broker temporarily unavailable
// - ErrClosed: component already torn down
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrClosed       = errors.New("closed")
)
