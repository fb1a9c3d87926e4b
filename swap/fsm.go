// Package swap implements the trade orchestrator: a finite state machine that
// sequences quote fetching, trustline creation, transaction building, external
// signing, and submission, and that owns the retry/no-retry policy for each
// failure class.
package swap

import (
	"fmt"

	"github.com/stellar-connect/swap-sdk-go/errors"
)

// State is one step of the trade workflow.
type State string

const (
	// StateIdle is the initial state before a trade intent is accepted.
	StateIdle State = "idle"

	// StateQuoting means a price quote is being fetched from the aggregator.
	StateQuoting State = "quoting"

	// StateBuilding means an unsigned envelope is being built.
	StateBuilding State = "building"

	// StateAwaitingSignature means the envelope is with the signature gateway.
	StateAwaitingSignature State = "awaiting_signature"

	// StateSubmitting means a signed envelope has been handed to the
	// submission client. The trade is no longer cancellable.
	StateSubmitting State = "submitting"

	// StateTrustlineRequired means the provider reported a missing trustline;
	// a ChangeTrust sub-operation is being routed through signing and
	// submission before the trade restarts from quoting.
	StateTrustlineRequired State = "trustline_required"

	// StateRateLimitedBackoff means the provider rate-limited the trade and
	// the orchestrator is waiting out a bounded delay before restarting
	// from quoting.
	StateRateLimitedBackoff State = "rate_limited_backoff"

	// StateSucceeded is a terminal state: the transaction is in a ledger.
	StateSucceeded State = "succeeded"

	// StateFailed is a terminal state: the trade ended with one taxonomy
	// reason. No envelope or quote is reused after reaching it.
	StateFailed State = "failed"
)

// legalTransitions defines the allowed state transitions for a trade.
// Each key is a "from" state, and the value is a set of valid "to" states.
//
// Encoding the retry/no-retry boundary here keeps it an explicit, auditable
// policy instead of an accident of error-handling order: a transition the map
// does not allow cannot happen, whatever the upstream returns.
var legalTransitions = map[State]map[State]bool{
	StateIdle: {
		StateQuoting: true,
	},
	StateQuoting: {
		StateBuilding:           true,
		StateRateLimitedBackoff: true,
		StateFailed:             true,
	},
	StateRateLimitedBackoff: {
		StateQuoting: true,
		StateFailed:  true,
	},
	StateBuilding: {
		StateAwaitingSignature:  true,
		StateTrustlineRequired:  true,
		StateRateLimitedBackoff: true,
		StateFailed:             true,
	},
	StateTrustlineRequired: {
		StateAwaitingSignature: true,
		StateFailed:            true,
	},
	StateAwaitingSignature: {
		StateSubmitting: true,
		StateFailed:     true,
	},
	StateSubmitting: {
		StateSucceeded:          true,
		StateTrustlineRequired:  true,
		StateRateLimitedBackoff: true,
		// Submitting -> Quoting closes the trustline sub-operation: once the
		// trustline settles the original quote is stale and the trade
		// restarts from scratch.
		StateQuoting: true,
		StateFailed:  true,
	},
	// Terminal states have no outgoing transitions
	StateSucceeded: {},
	StateFailed:    {},
}

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	return len(legalTransitions[s]) == 0
}

// ValidateTransition checks if a state transition from "from" to "to" is legal.
//
// Returns nil if the transition is valid, or an error with code
// TRANSITION_INVALID if the transition is not allowed.
func ValidateTransition(from, to State) error {
	validToStates, exists := legalTransitions[from]
	if !exists {
		return errors.NewSwapError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("unknown source state: %s", from),
			nil,
		)
	}

	if !validToStates[to] {
		return errors.NewSwapError(
			errors.TRANSITION_INVALID,
			fmt.Sprintf("illegal transition from %s to %s", from, to),
			nil,
		)
	}

	return nil
}
