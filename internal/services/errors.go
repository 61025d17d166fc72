// Package services defines the business logic for dispatch, matching, and
// intake management. This file centralizes the service-level error taxonomy
// so it can be consistently returned by service methods and checked by
// callers.
//
// All of these are recoverable caller-facing conditions; translation into
// HTTP status codes happens at the handler layer. None of them is ever
// swallowed inside a service — the only capture-then-re-raise point is the
// match adapter's failure writeback, which persists the audit trail before
// propagating.
package services

import (
	"errors"
	"fmt"

	"github.com/plasticos/go-broker-backend/internal/domain"
)

// Lookup errors.
var (
	// ErrLoadNotFound indicates the requested load does not exist.
	ErrLoadNotFound = errors.New("load not found")

	// ErrIntakeNotFound indicates the requested intake does not exist.
	ErrIntakeNotFound = errors.New("intake not found")
)

// Dispatch precondition errors.
var (
	// ErrMissingConfirmingParty is returned when a ready confirmation does
	// not record who confirmed.
	ErrMissingConfirmingParty = errors.New("confirming party required")

	// ErrMissingRate is returned when a rate confirmation lacks the carrier
	// or the rate amount.
	ErrMissingRate = errors.New("carrier and rate amount required")

	// ErrMissingSchedule is returned when scheduling lacks the pickup or
	// delivery datetime.
	ErrMissingSchedule = errors.New("pickup and delivery datetimes required")

	// ErrMissingProofOfDelivery is returned when closing a load without both
	// proof-of-delivery attachments.
	ErrMissingProofOfDelivery = errors.New("cannot close load: proof-of-delivery missing")

	// ErrMissingReason is returned when an exception is raised without a
	// reason string.
	ErrMissingReason = errors.New("exception reason required")

	// ErrNotCompliant is returned when the document compliance collaborator
	// vetoes closing a load.
	ErrNotCompliant = errors.New("load is not document-compliant")
)

// Match adapter errors.
var (
	// ErrNotNormalized is returned when a match run is attempted on an
	// intake that has not passed broker normalization.
	ErrNotNormalized = errors.New("intake is not normalized")

	// ErrMatchDisabled is returned when the per-intake circuit breaker has
	// tripped; no network I/O is attempted until a manual reset.
	ErrMatchDisabled = errors.New("matching disabled for intake after repeated failures")

	// ErrDuplicateEmission is returned when a packet was already emitted for
	// this (intake, packet version) and the caller did not force a re-emit.
	ErrDuplicateEmission = errors.New("packet already emitted for this schema version")
)

// InvalidTransitionError reports an illegal state-machine edge. The load is
// left unchanged.
type InvalidTransitionError struct {
	From domain.LoadState
	To   domain.LoadState
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// ImmutableFieldError reports a write to a field locked by the load's state.
type ImmutableFieldError struct {
	Field string
	State domain.LoadState
}

// Error implements the error interface.
func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %s is immutable in state %s", e.Field, e.State)
}
