package models

import "errors"

// Sentinel errors shared by every layer.
var (
	// ErrNoPendingProposal is returned by confirm/decline when nothing is awaiting an answer.
	ErrNoPendingProposal = errors.New("no pending proposal")
	// ErrTransport covers unreachable collaborators and malformed upstream payloads.
	ErrTransport = errors.New("transport error")
	// ErrStorageUnavailable wraps persistence failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
