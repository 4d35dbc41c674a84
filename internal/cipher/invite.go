package cipher

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

var callSignPattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// ValidCallSign reports whether s is 3 to 32 letters, digits or underscores.
func ValidCallSign(s string) bool {
	return callSignPattern.MatchString(s)
}

// NewInviteCode returns a code of the form COMM-XXXX-XXXX.
func NewInviteCode() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	h := strings.ToUpper(hex.EncodeToString(b[:]))
	return "COMM-" + h[:4] + "-" + h[4:], nil
}

// NormalizeInviteCode trims and upper-cases user input.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
