package cipher

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Provisioning is what a member needs to load a fresh secret into an
// authenticator app.
type Provisioning struct {
	Secret string
	URI    string
}

// NewSecret generates a base32 secret bound to the member's call sign.
func (p Policy) NewSecret(callSign string) (Provisioning, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.Issuer,
		AccountName: callSign,
		Period:      p.periodSeconds(),
		SecretSize:  SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Provisioning{}, fmt.Errorf("generate secret: %w", err)
	}
	return Provisioning{Secret: key.Secret(), URI: key.URL()}, nil
}

func (p Policy) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    p.periodSeconds(),
		Skew:      p.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Code returns the code for the time step containing t.
func (p Policy) Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, p.validateOpts())
}

// Check reports whether code matches any step within the skew of t.
// Malformed codes never match.
func (p Policy) Check(secret, code string, t time.Time) bool {
	if !ValidCodeFormat(code) {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t, p.validateOpts())
	return err == nil && ok
}

// ValidCodeFormat reports whether code is exactly six ASCII digits.
func ValidCodeFormat(code string) bool {
	if len(code) != CodeDigits {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
