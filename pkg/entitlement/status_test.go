package entitlement

import (
	"testing"
	"time"

	"github.com/gunmm/woodenfish/pkg/keychain"
)

func TestStatus(t *testing.T) {
	install := time.Unix(1700000000, 0)

	tests := []struct {
		name          string
		purchased     bool
		now           time.Time
		wantState     AccessState
		wantAccess    bool
		wantRemaining time.Duration
	}{
		{name: "trial", now: install.Add(24 * time.Hour), wantState: StateTrial, wantAccess: true, wantRemaining: 6 * 24 * time.Hour},
		{name: "expired", now: install.Add(8 * 24 * time.Hour), wantState: StateExpired, wantAccess: false},
		{name: "purchased during trial", purchased: true, now: install.Add(time.Hour), wantState: StatePurchased, wantAccess: true, wantRemaining: 7*24*time.Hour - time.Hour},
		{name: "purchased after trial", purchased: true, now: install.Add(30 * 24 * time.Hour), wantState: StatePurchased, wantAccess: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(keychain.NewMemoryStore("svc"), Options{Now: func() time.Time { return install }})
			if tt.purchased {
				tracker.SetPurchased(true)
			}

			status := tracker.Status(tt.now)
			if status.State != tt.wantState {
				t.Fatalf("state = %q, want %q", status.State, tt.wantState)
			}
			if status.Behavior().AccessAllowed != tt.wantAccess {
				t.Fatalf("access allowed = %t, want %t", status.Behavior().AccessAllowed, tt.wantAccess)
			}
			if status.TrialRemaining != tt.wantRemaining {
				t.Fatalf("remaining = %v, want %v", status.TrialRemaining, tt.wantRemaining)
			}
			if !status.TrialExpiresAt.Equal(install.Add(DefaultTrialDuration)) {
				t.Fatalf("expires at = %v", status.TrialExpiresAt)
			}
		})
	}
}

func TestGetBehaviorDefaultsToExpired(t *testing.T) {
	b := GetBehavior(AccessState("unknown"))
	if b.State != StateExpired || b.AccessAllowed || !b.ShowPaywall {
		t.Fatalf("unexpected fallback behavior: %+v", b)
	}
}

func TestStateBehaviorsComplete(t *testing.T) {
	for _, state := range []AccessState{StatePurchased, StateTrial, StateExpired} {
		b, ok := StateBehaviors[state]
		if !ok {
			t.Fatalf("missing behavior for %q", state)
		}
		if b.State != state {
			t.Fatalf("behavior for %q has state %q", state, b.State)
		}
		if b.AccessAllowed == b.ShowPaywall {
			t.Fatalf("state %q should either allow access or show the paywall", state)
		}
	}
}
