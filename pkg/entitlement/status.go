package entitlement

import "time"

// AccessState is the coarse entitlement state of the app.
type AccessState string

const (
	StatePurchased AccessState = "purchased"
	StateTrial     AccessState = "trial"
	StateExpired   AccessState = "expired"
)

// StateBehavior describes what the app allows in a given state.
type StateBehavior struct {
	State AccessState

	// AccessAllowed indicates whether the primary action runs without a purchase prompt.
	AccessAllowed bool

	// ShowPaywall indicates whether tapping should start the purchase flow.
	ShowPaywall bool

	Description string
}

// StateBehaviors maps each access state to its behavior.
var StateBehaviors = map[AccessState]StateBehavior{
	StatePurchased: {
		State:         StatePurchased,
		AccessAllowed: true,
		ShowPaywall:   false,
		Description:   "Unlocked by one-time purchase.",
	},
	StateTrial: {
		State:         StateTrial,
		AccessAllowed: true,
		ShowPaywall:   false,
		Description:   "Free trial in progress.",
	},
	StateExpired: {
		State:         StateExpired,
		AccessAllowed: false,
		ShowPaywall:   true,
		Description:   "Trial ended; purchase required.",
	},
}

// GetBehavior returns the behavior for state, defaulting to expired.
func GetBehavior(state AccessState) StateBehavior {
	if b, ok := StateBehaviors[state]; ok {
		return b
	}
	return StateBehaviors[StateExpired]
}

// Status is a point-in-time view of the entitlement record.
type Status struct {
	State          AccessState   `json:"state"`
	Purchased      bool          `json:"purchased"`
	TrialExpiresAt time.Time     `json:"trial_expires_at"`
	TrialRemaining time.Duration `json:"trial_remaining"`
}

// Behavior returns the behavior for the status' state.
func (s Status) Behavior() StateBehavior {
	return GetBehavior(s.State)
}

// Status evaluates the entitlement record at now. Like IsTrialExpired, it
// starts the trial clock if needed.
func (t *Tracker) Status(now time.Time) Status {
	expiresAt := t.EnsureTrialExpirationDate()
	status := Status{
		Purchased:      t.IsPurchased(),
		TrialExpiresAt: expiresAt,
	}
	if remaining := expiresAt.Sub(now); remaining > 0 {
		status.TrialRemaining = remaining
	}

	switch {
	case status.Purchased:
		status.State = StatePurchased
	case now.After(expiresAt):
		status.State = StateExpired
	default:
		status.State = StateTrial
	}
	return status
}
