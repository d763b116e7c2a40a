package purchase

import (
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// SessionState is the state of a purchase or restore attempt.
type SessionState string

const (
	StateIdle                 SessionState = "idle"
	StateProductLookupPending SessionState = "product_lookup_pending"
	StatePaymentPending       SessionState = "payment_pending"
	StatePurchased            SessionState = "purchased"
	StateFailed               SessionState = "failed"
	StateCancelled            SessionState = "cancelled"
	StateRestorePending       SessionState = "restore_pending"
	StateRestoreFound         SessionState = "restore_found"
	StateRestoreNotFound      SessionState = "restore_not_found"
	StateRestoreError         SessionState = "restore_error"
)

// SessionKind distinguishes purchase from restore attempts.
type SessionKind string

const (
	KindPurchase SessionKind = "purchase"
	KindRestore  SessionKind = "restore"
)

// Transition represents a valid state transition.
type Transition struct {
	From SessionState
	To   SessionState
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[Transition]bool{
	{StateIdle, StateProductLookupPending}:           true,
	{StateProductLookupPending, StatePaymentPending}: true, // Product found, payment submitted
	{StateProductLookupPending, StateFailed}:         true, // Lookup failed or empty
	{StateProductLookupPending, StatePurchased}:      true, // Unfinished transaction redelivered
	{StateProductLookupPending, StateCancelled}:      true,
	{StatePaymentPending, StatePurchased}:            true,
	{StatePaymentPending, StateFailed}:               true,
	{StatePaymentPending, StateCancelled}:            true,
	{StateIdle, StateRestorePending}:                 true,
	{StateRestorePending, StateRestoreFound}:         true,
	{StateRestorePending, StateRestoreNotFound}:      true,
	{StateRestorePending, StateRestoreError}:         true,
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to SessionState) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns all valid target states from the given state.
func ValidTransitionsFrom(from SessionState) []SessionState {
	targets := make([]SessionState, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}

// IsTerminal reports whether no transition leaves state.
func IsTerminal(state SessionState) bool {
	return state != StateIdle && len(ValidTransitionsFrom(state)) == 0
}

// Completion receives the outcome of a purchase or restore request.
type Completion func(ok bool)

// Session is one in-flight purchase or restore attempt.
type Session struct {
	ID        string
	Kind      SessionKind
	ProductID string
	State     SessionState
	StartedAt time.Time

	onComplete Completion
	log        zerolog.Logger
}

// Snapshot is a read-only view of the controller's session slot.
type Snapshot struct {
	SessionID string
	Kind      SessionKind
	ProductID string
	State     SessionState
	// LastState is the terminal state of the most recently resolved session.
	LastState SessionState
}

func (s *Session) transition(to SessionState) bool {
	if !CanTransition(s.State, to) {
		s.log.Warn().
			Str("from", string(s.State)).
			Str("to", string(to)).
			Msg("Ignoring invalid purchase session transition")
		return false
	}
	s.log.Debug().
		Str("from", string(s.State)).
		Str("to", string(to)).
		Msg("Purchase session transition")
	s.State = to
	return true
}

// resolve delivers the outcome once; later calls are no-ops.
func (s *Session) resolve(ok bool) bool {
	if s.onComplete == nil {
		return false
	}
	done := s.onComplete
	s.onComplete = nil
	done(ok)
	return true
}

// outcomeState picks the terminal state for an outcome given the session kind.
func outcomeState(kind SessionKind, ok, cancelled bool) SessionState {
	if kind == KindRestore {
		if ok {
			return StateRestoreFound
		}
		return StateRestoreError
	}
	switch {
	case ok:
		return StatePurchased
	case cancelled:
		return StateCancelled
	default:
		return StateFailed
	}
}
