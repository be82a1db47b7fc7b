package services

import "errors"

// Sentinel errors for the contribution pipeline. Handlers map these to HTTP
// status codes; services match them with errors.Is.
var (
	// ErrInvalidInput: malformed submission, rejected before any record exists.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound: unknown contribution id.
	ErrNotFound = errors.New("contribution not found")

	// ErrInvalidTransition: operation attempted on a contribution not in the
	// required source state. Usually a race the state guard correctly blocked.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConflictingVerdict: a verdict contradicting an already-terminal state.
	// Data-integrity alarm; never silently overwritten.
	ErrConflictingVerdict = errors.New("conflicting verdict for terminal contribution")

	// ErrScorerUnavailable / ErrSubmitterUnavailable: transient collaborator
	// failures, absorbed by retry/timeout logic and never surfaced to users.
	ErrScorerUnavailable    = errors.New("scorer unavailable")
	ErrSubmitterUnavailable = errors.New("transaction submitter unavailable")
)
