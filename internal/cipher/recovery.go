package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var recoveryPattern = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}$`)

// GenerateRecoveryCodes returns n codes of the form XXXX-XXXX (upper hex).
func GenerateRecoveryCodes(n int) ([]string, error) {
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, fmt.Errorf("read random: %w", err)
		}
		h := strings.ToUpper(hex.EncodeToString(b[:]))
		code := h[:4] + "-" + h[4:]
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// NormalizeRecoveryCode trims and upper-cases user input.
func NormalizeRecoveryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRecoveryFormat reports whether code looks like a recovery code once
// normalised.
func ValidRecoveryFormat(code string) bool {
	return recoveryPattern.MatchString(NormalizeRecoveryCode(code))
}

// HashRecoveryCode is the stored form of a recovery code.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeRecoveryCode(code)))
	return hex.EncodeToString(sum[:])
}

// HashRecoveryCodes hashes a whole batch.
func HashRecoveryCodes(codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = HashRecoveryCode(c)
	}
	return out
}

// MatchRecoveryCode returns the index of the hash that code matches, or -1.
// Every hash is compared.
func MatchRecoveryCode(hashes []string, code string) int {
	want := []byte(HashRecoveryCode(code))
	idx := -1
	for i, h := range hashes {
		if subtle.ConstantTimeCompare([]byte(h), want) == 1 {
			idx = i
		}
	}
	return idx
}

// ShouldRegenerate reports whether the remaining count is low enough to
// warn the member.
func (p Policy) ShouldRegenerate(remaining int) bool {
	return remaining < p.RecoveryWarnBelow
}
