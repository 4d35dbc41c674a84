// Package cipher holds the primitives behind the device-bound one-time-code
// second factor: code generation and checking, recovery codes, secret
// sealing and the lockout state machine. Nothing here touches storage.
package cipher

import "time"

// Policy is the tunable part of the second factor.
type Policy struct {
	Issuer            string
	MaxFailedAttempts int
	Lockout           time.Duration
	Period            time.Duration
	// Skew is the number of time steps accepted on each side of now.
	Skew              uint
	RecoveryCodes     int
	RecoveryWarnBelow int
	EnrollmentTTL     time.Duration
}

// DefaultPolicy mirrors the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		Issuer:            "comm@",
		MaxFailedAttempts: 5,
		Lockout:           15 * time.Minute,
		Period:            30 * time.Second,
		Skew:              1,
		RecoveryCodes:     10,
		RecoveryWarnBelow: 3,
		EnrollmentTTL:     30 * time.Minute,
	}
}

// CodeDigits is the length of a one-time code.
const CodeDigits = 6

// SecretSize is the shared secret length in bytes.
const SecretSize = 20

func (p Policy) periodSeconds() uint {
	s := uint(p.Period / time.Second)
	if s == 0 {
		return 30
	}
	return s
}
