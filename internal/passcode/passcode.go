// Package passcode issues the two scannable forms of an event pass: a short
// code an operator can type, and a signed payload for optical scanners.
package passcode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Alphabet omits characters that are easy to confuse when read aloud.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Length of a scan code.
const Length = 8

// ErrInvalidPayload is returned for payloads that fail signature or claim
// checks.
var ErrInvalidPayload = errors.New("passcode: invalid payload")

// NewCode returns a random scan code.
func NewCode() (string, error) {
	var sb strings.Builder
	sb.Grow(Length)
	n := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < Length; i++ {
		v, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		sb.WriteByte(Alphabet[v.Int64()])
	}
	return sb.String(), nil
}

// Normalize upper-cases and strips separators an operator may type.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}

// Claims bind a payload to one pass.
type Claims struct {
	EventID uuid.UUID `json:"evt"`
	jwt.RegisteredClaims
}

// Binding is the decoded content of a payload.
type Binding struct {
	PassID   uuid.UUID
	UserID   uuid.UUID
	EventID  uuid.UUID
	IssuedAt time.Time
}

// Signer signs and verifies scan payloads with HMAC-SHA256.
type Signer struct {
	key []byte
}

func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Sign returns the compact payload for b.
func (s *Signer) Sign(b Binding) (string, error) {
	claims := Claims{
		EventID: b.EventID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       b.PassID.String(),
			Subject:  b.UserID.String(),
			IssuedAt: jwt.NewNumericDate(b.IssuedAt),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign payload: %w", err)
	}
	return tok, nil
}

// Verify checks the signature and returns the binding. Time claims are
// judged as of at.
func (s *Signer) Verify(payload string, at time.Time) (Binding, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(payload, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return at }),
	)
	if err != nil {
		return Binding{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	passID, err := uuid.Parse(claims.ID)
	if err != nil {
		return Binding{}, fmt.Errorf("%w: pass id", ErrInvalidPayload)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Binding{}, fmt.Errorf("%w: subject", ErrInvalidPayload)
	}
	b := Binding{PassID: passID, UserID: userID, EventID: claims.EventID}
	if claims.IssuedAt != nil {
		b.IssuedAt = claims.IssuedAt.Time
	}
	return b, nil
}
