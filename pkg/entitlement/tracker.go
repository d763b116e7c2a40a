// Package entitlement tracks whether the app is unlocked: a one-time purchase
// flag and a trial window whose expiration is fixed the first time it is
// consulted. Both values live in a keychain.Store so they survive reinstalls.
package entitlement

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gunmm/woodenfish/pkg/keychain"
)

// Keys under which entitlement state is persisted.
const (
	PurchaseStatusKey  = "purchase_status"
	TrialExpirationKey = "trial_expiration_ts"
)

// DefaultTrialDuration is the length of the free trial.
const DefaultTrialDuration = 7 * 24 * time.Hour

// Options configures a Tracker.
type Options struct {
	TrialDuration time.Duration
	Now           func() time.Time
}

// Tracker reads and writes the entitlement record.
type Tracker struct {
	store         keychain.Store
	trialDuration time.Duration
	now           func() time.Time
}

// NewTracker creates a tracker backed by store.
func NewTracker(store keychain.Store, opts Options) *Tracker {
	if opts.TrialDuration <= 0 {
		opts.TrialDuration = DefaultTrialDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tracker{
		store:         store,
		trialDuration: opts.TrialDuration,
		now:           opts.Now,
	}
}

// TrialDuration returns the configured trial length.
func (t *Tracker) TrialDuration() time.Duration {
	return t.trialDuration
}

// IsPurchased reports whether the unlock has been purchased. Anything other
// than the literal "true" counts as not purchased.
func (t *Tracker) IsPurchased() bool {
	data, ok := t.store.Read(PurchaseStatusKey)
	if !ok {
		return false
	}
	return string(data) == "true"
}

// SetPurchased records the purchase flag.
func (t *Tracker) SetPurchased(purchased bool) {
	t.store.Upsert(PurchaseStatusKey, []byte(strconv.FormatBool(purchased)))
	log.Info().Bool("purchased", purchased).Msg("Purchase status updated")
}

// EnsureTrialExpirationDate returns the stored trial expiration, starting the
// trial clock now if none has been stored yet. The first call wins; later
// calls return the same value.
func (t *Tracker) EnsureTrialExpirationDate() time.Time {
	if existing, ok := t.readTrialExpiration(); ok {
		return existing
	}

	end := t.now().Add(t.trialDuration)
	expiration := time.Unix(end.Unix(), int64(end.Nanosecond()))
	t.store.Upsert(TrialExpirationKey, []byte(formatEpochSeconds(expiration)))
	log.Info().Time("trial_expires_at", expiration).Msg("Trial clock started")
	return expiration
}

// IsTrialExpired reports whether now is strictly after the trial expiration.
// It starts the trial clock if it has not been started.
func (t *Tracker) IsTrialExpired(now time.Time) bool {
	return now.After(t.EnsureTrialExpirationDate())
}

// TrialRemaining returns the time left in the trial, never negative.
func (t *Tracker) TrialRemaining(now time.Time) time.Duration {
	remaining := t.EnsureTrialExpirationDate().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Tracker) readTrialExpiration() (time.Time, bool) {
	data, ok := t.store.Read(TrialExpirationKey)
	if !ok {
		return time.Time{}, false
	}
	ts, err := parseEpochSeconds(string(data))
	if err != nil {
		log.Warn().Err(err).Str("value", string(data)).Msg("Ignoring malformed trial expiration")
		return time.Time{}, false
	}
	return ts, true
}

// formatEpochSeconds writes Unix seconds with the fraction only when there is one.
func formatEpochSeconds(ts time.Time) string {
	secs := strconv.FormatInt(ts.Unix(), 10)
	if ts.Nanosecond() == 0 {
		return secs
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", ts.Nanosecond()), "0")
	return secs + "." + frac
}

// parseEpochSeconds accepts whole or fractional Unix seconds.
func parseEpochSeconds(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	if ts, ok := parseDecimalSeconds(value); ok {
		return ts, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, strconv.ErrRange
	}
	whole, frac := math.Modf(f)
	return time.Unix(int64(whole), int64(frac*float64(time.Second))), nil
}

// parseDecimalSeconds reads "secs.fraction" exactly, to the nanosecond.
func parseDecimalSeconds(value string) (time.Time, bool) {
	whole, frac, found := strings.Cut(value, ".")
	if !found || whole == "" || frac == "" || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	for _, r := range frac {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	nanos, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, nanos), true
}
