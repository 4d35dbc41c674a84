package cipher

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B SHA1 seed, base32.
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestCodeMatchesRFCVector(t *testing.T) {
	p := DefaultPolicy()
	code, err := p.Code(rfcSecret, time.Unix(59, 0))
	require.NoError(t, err)
	require.Equal(t, "287082", code)
}

func TestCheckAcceptsAdjacentSteps(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 10, 16, 12, 0, 15, 0, time.UTC)

	for _, offset := range []time.Duration{-p.Period, 0, p.Period} {
		code, err := p.Code(rfcSecret, now.Add(offset))
		require.NoError(t, err)
		require.True(t, p.Check(rfcSecret, code, now), "offset %s", offset)
	}

	far, err := p.Code(rfcSecret, now.Add(3*p.Period))
	require.NoError(t, err)
	require.False(t, p.Check(rfcSecret, far, now))
}

func TestCheckRejectsMalformed(t *testing.T) {
	p := DefaultPolicy()
	for _, c := range []string{"", "12345", "1234567", "12a456", " 12345"} {
		require.False(t, p.Check(rfcSecret, c, time.Unix(59, 0)), c)
	}
}

func TestNewSecretProvisioning(t *testing.T) {
	p := DefaultPolicy()
	prov, err := p.NewSecret("night_owl")
	require.NoError(t, err)
	require.NotEmpty(t, prov.Secret)
	require.True(t, strings.HasPrefix(prov.URI, "otpauth://totp/"))
	require.Contains(t, prov.URI, "night_owl")

	code, err := p.Code(prov.Secret, time.Now())
	require.NoError(t, err)
	require.True(t, p.Check(prov.Secret, code, time.Now()))
}

func TestRecoveryCodes(t *testing.T) {
	codes, err := GenerateRecoveryCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)
	for _, c := range codes {
		require.True(t, ValidRecoveryFormat(c), c)
	}

	hashes := HashRecoveryCodes(codes)
	require.Equal(t, 3, MatchRecoveryCode(hashes, strings.ToLower(codes[3])+" "))
	require.Equal(t, -1, MatchRecoveryCode(hashes, "0000-0000"))
	require.NotContains(t, hashes, codes[0])
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer("test-key")
	require.NoError(t, err)

	sealed, err := s.Seal(rfcSecret)
	require.NoError(t, err)
	require.NotContains(t, sealed, rfcSecret)

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, rfcSecret, opened)

	other, err := NewSealer("other-key")
	require.NoError(t, err)
	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrSealed)

	_, err = NewSealer("")
	require.Error(t, err)
}

func TestAttemptLocksAfterThreshold(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	g := Guard{}

	for i := 1; i < p.MaxFailedAttempts; i++ {
		var out Outcome
		g, out = p.Attempt(g, now, false)
		require.Equal(t, Rejected, out)
		require.Equal(t, i, g.FailedAttempts)
	}

	g, out := p.Attempt(g, now, false)
	require.Equal(t, LockedNow, out)
	require.NotNil(t, g.LockedUntil)
	require.Equal(t, now.Add(p.Lockout), *g.LockedUntil)

	// A correct code during the lock is still refused.
	locked, out := p.Attempt(g, now.Add(time.Minute), true)
	require.Equal(t, StillLocked, out)
	require.Equal(t, g, locked)

	after, out := p.Attempt(g, now.Add(p.Lockout), true)
	require.Equal(t, Accepted, out)
	require.Equal(t, Guard{}, after)
}

func TestAttemptResetsCounterAfterExpiredLock(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	until := now.Add(-time.Second)
	g := Guard{FailedAttempts: 5, LockedUntil: &until}

	next, out := p.Attempt(g, now, false)
	require.Equal(t, Rejected, out)
	require.Equal(t, 1, next.FailedAttempts)
	require.Nil(t, next.LockedUntil)
	require.Equal(t, 4, p.AttemptsLeft(next))
}

func TestConditionOf(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)
	locked := Guard{FailedAttempts: 5, LockedUntil: &until}

	require.Equal(t, Trusted, ConditionOf(Guard{}, "dev-a", "dev-a", now))
	require.Equal(t, Locked, ConditionOf(locked, "dev-a", "dev-a", now))
	require.Equal(t, Untrusted, ConditionOf(locked, "dev-a", "dev-b", now))
}

func TestValidators(t *testing.T) {
	require.True(t, ValidCallSign("night_owl"))
	require.False(t, ValidCallSign("ab"))
	require.False(t, ValidCallSign("has space"))
	require.False(t, ValidCallSign(strings.Repeat("a", 33)))

	code, err := NewInviteCode()
	require.NoError(t, err)
	require.Regexp(t, `^COMM-[0-9A-F]{4}-[0-9A-F]{4}$`, code)
	require.Equal(t, code, NormalizeInviteCode(" "+strings.ToLower(code)))
}
