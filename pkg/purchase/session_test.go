package purchase

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		want     bool
	}{
		{StateIdle, StateProductLookupPending, true},
		{StateIdle, StateRestorePending, true},
		{StateIdle, StatePurchased, false},
		{StateProductLookupPending, StatePaymentPending, true},
		{StateProductLookupPending, StateFailed, true},
		{StatePaymentPending, StatePurchased, true},
		{StatePaymentPending, StateCancelled, true},
		{StatePaymentPending, StateRestoreFound, false},
		{StateRestorePending, StateRestoreNotFound, true},
		{StateRestorePending, StatePurchased, false},
		{StatePurchased, StateFailed, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidTransitionsFromIsSorted(t *testing.T) {
	got := ValidTransitionsFrom(StatePaymentPending)
	want := []SessionState{StateCancelled, StateFailed, StatePurchased}
	if len(got) != len(want) {
		t.Fatalf("ValidTransitionsFrom(payment_pending) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ValidTransitionsFrom(payment_pending) = %v, want %v", got, want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []SessionState{StatePurchased, StateFailed, StateCancelled, StateRestoreFound, StateRestoreNotFound, StateRestoreError}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = false, want true", s)
		}
	}
	for _, s := range []SessionState{StateIdle, StateProductLookupPending, StatePaymentPending, StateRestorePending} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%s) = true, want false", s)
		}
	}
}

func TestSessionRejectsInvalidTransition(t *testing.T) {
	s := &Session{State: StatePurchased, log: zerolog.Nop()}
	if s.transition(StateFailed) {
		t.Fatal("transition out of a terminal state should be rejected")
	}
	if s.State != StatePurchased {
		t.Fatalf("state changed to %s", s.State)
	}
}

func TestSessionResolvesOnce(t *testing.T) {
	var calls []bool
	s := &Session{onComplete: func(ok bool) { calls = append(calls, ok) }, log: zerolog.Nop()}

	if !s.resolve(true) {
		t.Fatal("first resolve should deliver")
	}
	if s.resolve(false) {
		t.Fatal("second resolve should be a no-op")
	}
	if len(calls) != 1 || !calls[0] {
		t.Fatalf("completion calls = %v, want [true]", calls)
	}
}

func TestOutcomeState(t *testing.T) {
	tests := []struct {
		kind      SessionKind
		ok        bool
		cancelled bool
		want      SessionState
	}{
		{KindPurchase, true, false, StatePurchased},
		{KindPurchase, false, true, StateCancelled},
		{KindPurchase, false, false, StateFailed},
		{KindRestore, true, false, StateRestoreFound},
		{KindRestore, false, false, StateRestoreError},
		{KindRestore, false, true, StateRestoreError},
	}
	for _, tt := range tests {
		if got := outcomeState(tt.kind, tt.ok, tt.cancelled); got != tt.want {
			t.Errorf("outcomeState(%s, %v, %v) = %s, want %s", tt.kind, tt.ok, tt.cancelled, got, tt.want)
		}
	}
}
