// Package reveal decides how much of an event's time and location a
// requester may see at a given instant. It is a pure function of its
// input; callers pass the clock reading in.
package reveal

import (
	"time"

	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

// State is the discrete display state of an event.
type State string

const (
	// Tease: nothing revealed and the reveal is not imminent.
	Tease State = "TEASE"
	// Window: inside the pre-reveal window, time not yet revealed.
	Window State = "WINDOW"
	// Locked: time revealed, location withheld.
	Locked State = "LOCKED"
	// Revealed: time and location revealed.
	Revealed State = "REVEALED"
)

// Reason explains why the location is withheld.
type Reason string

const (
	ReasonNone Reason = ""
	ReasonTime Reason = "time"
	ReasonTier Reason = "tier"
)

// Config is the per-event reveal configuration. All offsets are measured
// back from the event start.
type Config struct {
	TimeRevealBefore     time.Duration
	LocationRevealBefore time.Duration
	// Window opens this long before the time reveal instant.
	Window       time.Duration
	LocationTier tier.Tier
}

// Default offsets used when an event leaves them unset.
const (
	DefaultTimeRevealBefore     = 168 * time.Hour
	DefaultLocationRevealBefore = 24 * time.Hour
)

// Input bundles everything Compute needs.
type Input struct {
	Config     Config
	EventStart time.Time
	Tier       tier.Tier
	Now        time.Time
}

// Disclosure is the outcome for one requester at one instant.
type Disclosure struct {
	State            State
	TimeRevealed     bool
	LocationRevealed bool
	TierSufficient   bool
	RequiredTier     tier.Tier
	WithheldBecause  Reason

	TimeRevealAt     time.Time
	LocationRevealAt time.Time

	UntilTimeReveal time.Duration
	// UntilLocationReveal is nil when the requester's tier can never see
	// the location.
	UntilLocationReveal *time.Duration
	UntilStart          time.Duration
}

// Compute evaluates the reveal rules.
func Compute(in Input) Disclosure {
	cfg := in.Config
	timeAt := in.EventStart.Add(-cfg.TimeRevealBefore)
	locAt := in.EventStart.Add(-cfg.LocationRevealBefore)
	windowAt := timeAt.Add(-cfg.Window)

	d := Disclosure{
		RequiredTier:     cfg.LocationTier,
		TierSufficient:   in.Tier.AtLeast(cfg.LocationTier),
		TimeRevealAt:     timeAt,
		LocationRevealAt: locAt,
		UntilTimeReveal:  until(in.Now, timeAt),
		UntilStart:       until(in.Now, in.EventStart),
	}

	d.TimeRevealed = !in.Now.Before(timeAt)
	locTimeReached := !in.Now.Before(locAt)
	d.LocationRevealed = d.TimeRevealed && locTimeReached && d.TierSufficient

	if d.TierSufficient {
		// Location never shows before time, so the effective instant is the later one.
		effective := locAt
		if timeAt.After(effective) {
			effective = timeAt
		}
		u := until(in.Now, effective)
		d.UntilLocationReveal = &u
	}

	switch {
	case d.LocationRevealed:
		d.State = Revealed
	case d.TimeRevealed:
		d.State = Locked
		d.WithheldBecause = ReasonTime
		if !d.TierSufficient {
			d.WithheldBecause = ReasonTier
		}
	case !in.Now.Before(windowAt):
		d.State = Window
		d.WithheldBecause = ReasonTime
	default:
		d.State = Tease
		d.WithheldBecause = ReasonTime
	}
	return d
}

func until(now, at time.Time) time.Duration {
	if !now.Before(at) {
		return 0
	}
	return at.Sub(now)
}

// Millis converts a countdown to whole milliseconds for transport.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}
