package parse

import "errors"

var (
	// ErrUnknownProvider is returned when the registry has no strategy for
	// the raw event's provider — a distinct failure mode from a known
	// provider emitting a payload the strategy can't parse.
	ErrUnknownProvider = errors.New("parse: no strategy registered for provider")
	// ErrUnparseablePayload marks a payload that doesn't match the shape a
	// provider strategy expects. Callers route this to the DLQ rather than
	// retrying (spec.md §7 — permanent, not transient).
	ErrUnparseablePayload = errors.New("parse: unparseable payload")
)
