package store

// State is a notification's position in its delivery lifecycle. The set is
// closed and exhaustive; storage enforces the same enumeration via a CHECK
// constraint on notifications.state.
type State string

const (
	StateQueued        State = "queued"
	StateDelivering    State = "delivering"
	StateDelivered     State = "delivered"
	StateSeen          State = "seen"
	StateAccepted      State = "accepted"
	StateInProgress    State = "in_progress"
	StateCompleted     State = "completed"
	StateDeferredBusy  State = "deferred_busy"
	StateFailed        State = "failed"
	StateTimeout       State = "timeout"
	StateReassigned    State = "reassigned"
	StateDeclined      State = "declined"
	StateDeadLetter    State = "dead_letter"
)

// validStates is consulted to reject unknown state names synchronously,
// before ever touching the database.
var validStates = map[State]bool{
	StateQueued:       true,
	StateDelivering:   true,
	StateDelivered:    true,
	StateSeen:         true,
	StateAccepted:     true,
	StateInProgress:   true,
	StateCompleted:    true,
	StateDeferredBusy: true,
	StateFailed:       true,
	StateTimeout:      true,
	StateReassigned:   true,
	StateDeclined:     true,
	StateDeadLetter:   true,
}

// IsValidState reports whether s is one of the closed set of legal states.
func IsValidState(s State) bool {
	return validStates[s]
}

// transitions enumerates the legal from->to state pairs. Anything not
// listed here is rejected unless the caller sets Force.
var transitions = map[State]map[State]bool{
	StateQueued: {
		StateDelivering: true,
		StateReassigned: true,
		StateTimeout:    true,
	},
	StateDelivering: {
		StateDelivered:    true,
		StateDeferredBusy: true,
		StateFailed:       true,
		StateTimeout:      true,
		StateDeadLetter:   true,
	},
	StateDelivered: {
		StateSeen:         true,
		StateAccepted:     true,
		StateDeclined:     true,
		StateDeferredBusy: true,
		StateTimeout:      true,
	},
	StateSeen: {
		StateAccepted:     true,
		StateDeclined:     true,
		StateDeferredBusy: true,
		StateTimeout:      true,
	},
	StateAccepted: {
		StateInProgress:   true,
		StateCompleted:    true,
		StateDeferredBusy: true,
		StateTimeout:      true,
	},
	StateInProgress: {
		StateCompleted:    true,
		StateDeferredBusy: true,
		StateTimeout:      true,
	},
	StateDeferredBusy: {
		StateQueued:      true,
		StateDelivering:  true,
		StateAccepted:    true,
		StateInProgress:  true,
		StateTimeout:     true,
	},
	StateFailed: {
		StateQueued:     true,
		StateDelivering: true,
		StateDeadLetter: true,
		StateTimeout:    true,
	},
	StateTimeout: {
		StateReassigned: true,
	},
	StateReassigned: {
		StateQueued:     true,
		StateDelivering: true,
	},
	// completed, declined, dead_letter are terminal: no outgoing entries.
}

// terminalStates end a delivery attempt. completed, declined and dead_letter
// accept no outgoing transition (outside force); timeout can still move to
// reassigned.
var terminalStates = map[State]bool{
	StateCompleted:  true,
	StateDeclined:   true,
	StateTimeout:    true,
	StateDeadLetter: true,
}

// retryableStates are the states the claim query considers work-ready.
var retryableStates = map[State]bool{
	StateQueued:       true,
	StateFailed:       true,
	StateDeferredBusy: true,
}

// IsTerminal reports whether s is in the terminal set. Note that timeout is
// terminal for the current delivery attempt, but the escalation cascade may
// still resurrect it via a forced timeout->reassigned->queued sequence.
func IsTerminal(s State) bool {
	return terminalStates[s]
}

// IsRetryable reports whether s is claimable by the claim query.
func IsRetryable(s State) bool {
	return retryableStates[s]
}

// CanTransition reports whether moving from `from` to `to` is legal under
// the normal (non-forced) transition table. A same-state pair is always
// legal (and is a no-op at the call site).
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}
