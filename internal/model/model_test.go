package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/cipher"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

var now = time.Date(2026, 10, 16, 18, 0, 0, 0, time.UTC)

func intp(v int) *int { return &v }

func TestPassTransitionsDoNotMutate(t *testing.T) {
	p := EventPass{Status: PassWaitlisted, WaitlistPosition: intp(2)}

	promoted, err := p.Promote(now)
	require.NoError(t, err)
	require.Equal(t, PassClaimed, promoted.Status)
	require.Nil(t, promoted.WaitlistPosition)
	require.Equal(t, PassWaitlisted, p.Status)
	require.Equal(t, 2, *p.WaitlistPosition)

	used, err := promoted.CheckIn(now)
	require.NoError(t, err)
	require.Equal(t, PassUsed, used.Status)
	require.Equal(t, now, *used.CheckedInAt)
}

func TestCheckInFailures(t *testing.T) {
	at := now.Add(-time.Hour)
	_, err := EventPass{Status: PassUsed, CheckedInAt: &at}.CheckIn(now)
	require.True(t, apperr.Is(err, apperr.CodeAlreadyCheckedIn))
	e, _ := apperr.As(err)
	require.Equal(t, at.Format(time.RFC3339), e.Details["checked_in_at"])

	reason := "duplicate account"
	_, err = EventPass{Status: PassRevoked, RevokedReason: &reason}.CheckIn(now)
	require.True(t, apperr.Is(err, apperr.CodePassRevoked))
	e, _ = apperr.As(err)
	require.Equal(t, reason, e.Details["reason"])

	for _, s := range []PassStatus{PassWaitlisted, PassCancelled} {
		_, err = EventPass{Status: s}.CheckIn(now)
		require.True(t, apperr.Is(err, apperr.CodePassNotClaimed), s)
	}
}

func TestCancelAndRevoke(t *testing.T) {
	for _, s := range []PassStatus{PassUsed, PassRevoked, PassCancelled} {
		_, err := EventPass{Status: s}.Cancel(now)
		require.True(t, apperr.Is(err, apperr.CodeCancelNotAllowed), s)
	}

	revoked, err := EventPass{Status: PassClaimed}.Revoke("no-show history", now)
	require.NoError(t, err)
	require.Equal(t, PassRevoked, revoked.Status)
	require.False(t, revoked.Status.Active())
	require.Equal(t, "no-show history", *revoked.RevokedReason)

	_, err = revoked.Revoke("again", now)
	require.True(t, apperr.Is(err, apperr.CodePassRevoked))
}

func TestCapacityInfo(t *testing.T) {
	tests := []struct {
		name       string
		capacity   *int
		confirmed  int
		wantFull   bool
		wantLeft   *int
		wantUrgent Urgency
	}{
		{"unlimited nil", nil, 400, false, nil, UrgencyNone},
		{"unlimited zero", intp(0), 3, false, nil, UrgencyNone},
		{"quiet", intp(10), 4, false, intp(6), UrgencyNone},
		{"low", intp(10), 5, false, intp(5), UrgencyLow},
		{"medium", intp(20), 15, false, intp(5), UrgencyMedium},
		{"high", intp(10), 9, false, intp(1), UrgencyHigh},
		{"full", intp(10), 10, true, intp(0), UrgencyFull},
		{"overfull", intp(10), 12, true, intp(0), UrgencyFull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := NewCapacityInfo(tt.capacity, tt.confirmed, 1)
			require.Equal(t, tt.wantFull, info.IsFull)
			require.Equal(t, tt.wantLeft, info.SpotsRemaining)
			require.Equal(t, tt.wantUrgent, info.Urgency)
			require.LessOrEqual(t, info.PercentFull, 100)
		})
	}
}

func TestInviteCheck(t *testing.T) {
	past := now.Add(-time.Minute)
	require.False(t, InviteCode{Revoked: true}.Check(now).Valid)
	require.False(t, InviteCode{ExpiresAt: &past}.Check(now).Valid)
	require.False(t, InviteCode{MaxUses: 1, Uses: 1}.Check(now).Valid)

	ok := InviteCode{DefaultTier: tier.Initiate, MaxUses: 0, Uses: 40}.Check(now)
	require.True(t, ok.Valid)
	require.Equal(t, tier.Initiate, *ok.DefaultTier)
}

func TestDecide(t *testing.T) {
	r := AccessRequest{Status: RequestPending}
	approved, err := r.Decide(true, "ops", "", now)
	require.NoError(t, err)
	require.Equal(t, RequestApproved, approved.Status)
	require.Nil(t, approved.Reason)

	_, err = approved.Decide(false, "ops", "late", now)
	require.True(t, apperr.Is(err, apperr.CodeNotPending))
}

func TestCredentialHelpers(t *testing.T) {
	c := CipherCredential{RecoveryHashes: []string{"a", "b", "c"}}
	c2 := c.WithoutRecoveryCode(1)
	require.Equal(t, []string{"a", "c"}, c2.RecoveryHashes)
	require.Equal(t, []string{"a", "b", "c"}, c.RecoveryHashes)

	until := now.Add(time.Minute)
	c3 := c.WithGuard(cipher.Guard{FailedAttempts: 5, LockedUntil: &until})
	require.True(t, c3.Guard().LockedAt(now))
}
