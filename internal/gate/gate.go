// Package gate decides whether a tap may run the primary action.
package gate

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gunmm/woodenfish/internal/knock"
	"github.com/gunmm/woodenfish/pkg/purchase"
)

// Reason explains a gate decision.
type Reason string

const (
	ReasonPurchased    Reason = "purchased"
	ReasonTrial        Reason = "trial"
	ReasonTrialExpired Reason = "trial_expired"
)

// Entitlements reports what the user may do.
type Entitlements interface {
	IsPurchased() bool
	IsTrialExpired(now time.Time) bool
}

// Purchaser starts the unlock purchase.
type Purchaser interface {
	RequestPurchase(onComplete purchase.Completion)
}

// Performer runs the primary action.
type Performer interface {
	Perform() knock.Result
}

// Decision is the immediate outcome of a tap.
type Decision struct {
	Allowed bool
	Reason  Reason
	Result  knock.Result
}

// Gate checks entitlement before every knock.
type Gate struct {
	entitlements Entitlements
	purchaser    Purchaser
	action       Performer
	now          func() time.Time
}

// New creates a Gate. A nil now uses time.Now.
func New(entitlements Entitlements, purchaser Purchaser, action Performer, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{entitlements: entitlements, purchaser: purchaser, action: action, now: now}
}

// Tap runs the action if the user is entitled. Otherwise it requests the
// purchase; if that succeeds the action runs once and onUnlock receives true.
// onUnlock is only called when a purchase was requested, possibly from another
// goroutine.
func (g *Gate) Tap(onUnlock func(ok bool)) Decision {
	if g.entitlements.IsPurchased() {
		return Decision{Allowed: true, Reason: ReasonPurchased, Result: g.action.Perform()}
	}
	if !g.entitlements.IsTrialExpired(g.now()) {
		return Decision{Allowed: true, Reason: ReasonTrial, Result: g.action.Perform()}
	}

	log.Info().Msg("Trial expired, requesting purchase")
	g.purchaser.RequestPurchase(func(ok bool) {
		if ok {
			g.action.Perform()
		}
		if onUnlock != nil {
			onUnlock(ok)
		}
	})
	return Decision{Allowed: false, Reason: ReasonTrialExpired}
}
