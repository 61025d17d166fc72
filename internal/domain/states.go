// Package domain defines the persistence models and lifecycle rules for the
// brokerage backend: material intakes, freight loads, rate memory, and the
// packet-emission audit trail. This file holds the Load state enum, the legal
// transition table, and the per-state SLA thresholds used by the escalation
// scan.
package domain

import "time"

// LoadState enumerates the lifecycle states of a freight Load.
type LoadState string

// Happy-path states in order, plus the terminal exception side state.
const (
	StateDraft          LoadState = "draft"
	StateAwaitingReady  LoadState = "awaiting_ready"
	StateReadyConfirmed LoadState = "ready_confirmed"
	StateRateConfirmed  LoadState = "rate_confirmed"
	StateScheduled      LoadState = "scheduled"
	StateDispatched     LoadState = "dispatched"
	StatePickedUp       LoadState = "picked_up"
	StateDelivered      LoadState = "delivered"
	StateClosed         LoadState = "closed"
	StateException      LoadState = "exception"
)

// validTransitions is the single source of truth for legal state changes.
// Exception is handled separately (reachable from any non-terminal state).
var validTransitions = map[LoadState]LoadState{
	StateDraft:          StateAwaitingReady,
	StateAwaitingReady:  StateReadyConfirmed,
	StateReadyConfirmed: StateRateConfirmed,
	StateRateConfirmed:  StateScheduled,
	StateScheduled:      StateDispatched,
	StateDispatched:     StatePickedUp,
	StatePickedUp:       StateDelivered,
	StateDelivered:      StateClosed,
}

// EscalationHours maps each monitored state to its SLA threshold in hours.
// Loads sitting in one of these states longer than the threshold are flagged
// by the escalation scan.
var EscalationHours = map[LoadState]int{
	StateAwaitingReady:  48,
	StateReadyConfirmed: 24,
	StateRateConfirmed:  24,
	StateScheduled:      24,
	StateDispatched:     72,
}

// IsValid reports whether s is one of the enumerated load states.
func (s LoadState) IsValid() bool {
	switch s {
	case StateDraft, StateAwaitingReady, StateReadyConfirmed, StateRateConfirmed,
		StateScheduled, StateDispatched, StatePickedUp, StateDelivered,
		StateClosed, StateException:
		return true
	}
	return false
}

// IsTerminal reports whether s permits no further automated transitions.
func (s LoadState) IsTerminal() bool {
	return s == StateClosed || s == StateException
}

// CanTransition reports whether from -> to is a legal edge. Exception is
// reachable from any non-terminal state; everything else must be in the
// transition table.
func CanTransition(from, to LoadState) bool {
	if to == StateException {
		return !from.IsTerminal()
	}
	next, ok := validTransitions[from]
	return ok && next == to
}

// LaneLocked reports whether the load's lane (origin/destination) may no
// longer be modified: true once the rate is confirmed.
func (s LoadState) LaneLocked() bool {
	switch s {
	case StateRateConfirmed, StateScheduled, StateDispatched, StatePickedUp,
		StateDelivered, StateClosed:
		return true
	}
	return false
}

// FieldsLocked reports whether the load is fully locked except for the two
// proof-of-delivery flags: true once dispatched.
func (s LoadState) FieldsLocked() bool {
	switch s {
	case StateDispatched, StatePickedUp, StateDelivered, StateClosed:
		return true
	}
	return false
}

// SLADeadline returns the time at which a load that entered state s at
// enteredAt breaches its SLA, and whether the state is monitored at all.
func SLADeadline(s LoadState, enteredAt time.Time) (time.Time, bool) {
	h, ok := EscalationHours[s]
	if !ok {
		return time.Time{}, false
	}
	return enteredAt.Add(time.Duration(h) * time.Hour), true
}
