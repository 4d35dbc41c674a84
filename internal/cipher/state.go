package cipher

import "time"

// State is the enrollment state of a member's second factor.
type State int

const (
	Unenrolled State = iota
	Enrolling
	Active
)

func (s State) String() string {
	switch s {
	case Enrolling:
		return "ENROLLING"
	case Active:
		return "ACTIVE"
	}
	return "UNENROLLED"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Condition refines Active for a particular device and instant.
type Condition int

const (
	Trusted Condition = iota
	Untrusted
	Locked
)

func (c Condition) String() string {
	switch c {
	case Untrusted:
		return "UNTRUSTED_DEVICE"
	case Locked:
		return "LOCKED"
	}
	return "TRUSTED_DEVICE"
}

// MarshalText implements encoding.TextMarshaler.
func (c Condition) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Guard is the lockout bookkeeping carried on a credential.
type Guard struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// LockedAt reports whether g forbids attempts at now.
func (g Guard) LockedAt(now time.Time) bool {
	return g.LockedUntil != nil && now.Before(*g.LockedUntil)
}

// ConditionOf classifies a device against the bound one. A locked guard
// wins only on the trusted device; untrusted devices are always refused
// on device grounds.
func ConditionOf(g Guard, trustedDevice, device string, now time.Time) Condition {
	if device != trustedDevice {
		return Untrusted
	}
	if g.LockedAt(now) {
		return Locked
	}
	return Trusted
}

// Outcome is the result of feeding one attempt through the guard.
type Outcome int

const (
	// Accepted: the code matched.
	Accepted Outcome = iota
	// Rejected: wrong code, still under the threshold.
	Rejected
	// LockedNow: wrong code that tripped the lock.
	LockedNow
	// StillLocked: the attempt was refused without looking at the code.
	StillLocked
)

// Attempt applies one code check to g and returns the next guard. The
// input is never modified. An expired lock resets the counter before the
// attempt is counted.
func (p Policy) Attempt(g Guard, now time.Time, codeOK bool) (Guard, Outcome) {
	if g.LockedAt(now) {
		return g, StillLocked
	}
	if g.LockedUntil != nil {
		g = Guard{}
	}
	if codeOK {
		return Guard{}, Accepted
	}
	next := Guard{FailedAttempts: g.FailedAttempts + 1}
	if next.FailedAttempts >= p.MaxFailedAttempts {
		until := now.Add(p.Lockout)
		next.LockedUntil = &until
		return next, LockedNow
	}
	return next, Rejected
}

// Reset is the guard after a successful recovery or an admin unlock.
func Reset() Guard { return Guard{} }

// AttemptsLeft is how many wrong codes remain before the lock trips.
func (p Policy) AttemptsLeft(g Guard) int {
	return max(p.MaxFailedAttempts-g.FailedAttempts, 0)
}
