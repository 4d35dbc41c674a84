package service

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/notify"
	"github.com/Shivanand-hulikatti/layergate/internal/passcode"
	"github.com/Shivanand-hulikatti/layergate/internal/repository"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

type admissionFixture struct {
	svc   *AdmissionService
	store *repository.MemoryStore
	clock *testClock
	tiers fixedTiers
	sent  *recorder
}

func newAdmissionFixture(t *testing.T) *admissionFixture {
	t.Helper()
	f := &admissionFixture{
		store: repository.NewMemoryStore(),
		clock: newTestClock(),
		tiers: fixedTiers{def: tier.Member, byID: map[uuid.UUID]tier.Tier{}},
		sent:  &recorder{},
	}
	f.svc = NewAdmissionService(f.store, f.store, f.store, f.tiers, passcode.NewSigner("test-pass-key"), f.sent, zap.NewNop(), WithClock(f.clock.Now))
	return f
}

func (f *admissionFixture) admitN(t *testing.T, eventID uuid.UUID, n int) []model.EventPass {
	t.Helper()
	out := make([]model.EventPass, 0, n)
	for range n {
		p, err := f.svc.RequestAdmission(context.Background(), uuid.New(), eventID)
		require.NoError(t, err)
		out = append(out, p)
		f.clock.Advance(time.Second)
	}
	return out
}

func TestConcurrentAdmissionNeverOverbooks(t *testing.T) {
	ctx := context.Background()
	f := newAdmissionFixture(t)
	const capacity, users = 5, 40
	e := seedEvent(t, f.store, func(e *model.Event) {
		c := capacity
		e.Capacity = &c
	})

	passes := make([]model.EventPass, users)
	var g errgroup.Group
	for i := range users {
		g.Go(func() error {
			p, err := f.svc.RequestAdmission(ctx, uuid.New(), e.ID)
			passes[i] = p
			return err
		})
	}
	require.NoError(t, g.Wait())

	claimed := 0
	var positions []int
	codes := map[string]bool{}
	for _, p := range passes {
		codes[p.ScanCode] = true
		switch p.Status {
		case model.PassClaimed:
			claimed++
			require.Nil(t, p.WaitlistPosition)
		case model.PassWaitlisted:
			positions = append(positions, *p.WaitlistPosition)
		default:
			t.Fatalf("unexpected status %s", p.Status)
		}
	}
	require.Equal(t, capacity, claimed)
	require.Len(t, codes, users)

	sort.Ints(positions)
	for i, pos := range positions {
		require.Equal(t, i+1, pos)
	}

	info, err := f.svc.CapacityInfo(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, info.IsFull)
	require.Equal(t, model.UrgencyFull, info.Urgency)
	require.Equal(t, users-capacity, info.Waitlisted)
	require.Zero(t, *info.SpotsRemaining)
}

func TestAdmissionUnlimitedNeverWaitlists(t *testing.T) {
	f := newAdmissionFixture(t)
	e := seedEvent(t, f.store, func(e *model.Event) { e.Capacity = nil })
	for _, p := range f.admitN(t, e.ID, 6) {
		require.Equal(t, model.PassClaimed, p.Status)
	}
}

func TestAdmissionRejections(t *testing.T) {
	ctx := context.Background()
	f := newAdmissionFixture(t)
	e := seedEvent(t, f.store, func(e *model.Event) { e.RequiredTier = tier.InnerCircle })
	review := seedEvent(t, f.store, func(e *model.Event) { e.RequiresReview = true })

	_, err := f.svc.RequestAdmission(ctx, uuid.New(), e.ID)
	requireCode(t, err, apperr.CodeInsufficientTier)
	ae, _ := apperr.As(err)
	require.Equal(t, "INNER_CIRCLE", ae.Details["required_tier"])
	require.Equal(t, "MEMBER", ae.Details["current_tier"])

	_, err = f.svc.RequestAdmission(ctx, uuid.New(), review.ID)
	requireCode(t, err, apperr.CodeReviewRequired)

	_, err = f.svc.RequestAdmission(ctx, uuid.New(), uuid.New())
	requireCode(t, err, apperr.CodeEventNotFound)

	open := seedEvent(t, f.store, nil)
	userID := uuid.New()
	_, err = f.svc.RequestAdmission(ctx, userID, open.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestAdmission(ctx, userID, open.ID)
	requireCode(t, err, apperr.CodeAlreadyAdmitted)
}

func TestCancelPromotesWaitlistHead(t *testing.T) {
	ctx := context.Background()
	f := newAdmissionFixture(t)
	e := seedEvent(t, f.store, nil)
	p := f.admitN(t, e.ID, 4)
	require.Equal(t, model.PassWaitlisted, p[2].Status)
	require.Equal(t, model.PassWaitlisted, p[3].Status)

	rel, err := f.svc.CancelAdmission(ctx, p[0].UserID, e.ID)
	require.NoError(t, err)
	require.Equal(t, model.PassCancelled, rel.Pass.Status)
	require.NotNil(t, rel.Promoted)
	require.Equal(t, p[2].ID, rel.Promoted.ID)
	require.Equal(t, model.PassClaimed, rel.Promoted.Status)

	queue, err := f.svc.Waitlist(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, p[3].ID, queue[0].ID)
	require.Equal(t, 1, *queue[0].WaitlistPosition)

	require.Equal(t, []notify.Kind{
		notify.KindAdmitted, notify.KindAdmitted, notify.KindWaitlisted, notify.KindWaitlisted, notify.KindPromoted,
	}, f.sent.kinds())

	// Cancelling again finds no active pass; the user may re-admit.
	_, err = f.svc.CancelAdmission(ctx, p[0].UserID, e.ID)
	requireCode(t, err, apperr.CodePassNotFound)
	again, err := f.svc.RequestAdmission(ctx, p[0].UserID, e.ID)
	require.NoError(t, err)
	require.Equal(t, model.PassWaitlisted, again.Status)
	require.Equal(t, 2, *again.WaitlistPosition)
}

func TestCancelAfterStartRefused(t *testing.T) {
	f := newAdmissionFixture(t)
	e := seedEvent(t, f.store, nil)
	p := f.admitN(t, e.ID, 1)

	f.clock.Advance(e.StartsAt.Sub(f.clock.Now()))
	_, err := f.svc.CancelAdmission(context.Background(), p[0].UserID, e.ID)
	requireCode(t, err, apperr.CodeEventStarted)
}

func TestCheckInByCode(t *testing.T) {
	ctx := context.Background()
	f := newAdmissionFixture(t)
	e := seedEvent(t, f.store, func(e *model.Event) {
		c := 1
		e.Capacity = &c
	})
	other := seedEvent(t, f.store, nil)
	p := f.admitN(t, e.ID, 2)

	_, err := f.svc.CheckIn(ctx, p[0].ScanCode, other.ID, 0)
	requireCode(t, err, apperr.CodeWrongEvent)

	_, err = f.svc.CheckIn(ctx, p[0].ScanCode, e.ID, -1)
	requireCode(t, err, apperr.CodeInvalidInput)

	res, err := f.svc.CheckIn(ctx, p[0].ScanCode[:4]+"-"+p[0].ScanCode[4:], e.ID, 0)
	require.NoError(t, err)
	require.Equal(t, model.PassUsed, res.Pass.Status)
	require.Equal(t, e.ReputationPoints, res.ReputationPoints)
	require.NotNil(t, res.Pass.CheckedInAt)

	_, err = f.svc.CheckIn(ctx, p[0].ScanCode, e.ID, 0)
	requireCode(t, err, apperr.CodeAlreadyCheckedIn)
	ae, _ := apperr.As(err)
	require.NotEmpty(t, ae.Details["checked_in_at"])

	_, err = f.svc.CheckIn(ctx, p[1].ScanCode, e.ID, 5)
	requireCode(t, err, apperr.CodePassNotClaimed)

	_, err = f.svc.CheckIn(ctx, "ZZZZZZZZ", e.ID, 5)
	requireCode(t, err, apperr.CodePassNotFound)
}

func TestCheckInByPayload(t *testing.T) {
	ctx := context.Background()
	f := newAdmissionFixture(t)
	e := seedEvent(t, f.store, nil)
	other := seedEvent(t, f.store, nil)
	p := f.admitN(t, e.ID, 1)[0]

	_, err := f.svc.CheckInPayload(ctx, p.ScanPayload+"x", e.ID, 0)
	requireCode(t, err, apperr.CodeInvalidPassPayload)

	_, err = f.svc.CheckInPayload(ctx, p.ScanPayload, other.ID, 0)
	requireCode(t, err, apperr.CodeWrongEvent)

	res, err := f.svc.CheckInPayload(ctx, p.ScanPayload, e.ID, 25)
	require.NoError(t, err)
	require.Equal(t, p.ID, res.Pass.ID)
	require.Equal(t, 25, res.ReputationPoints)
}

func TestCheckInByPayloadFollowsServiceClock(t *testing.T) {
	ctx := context.Background()
	f := newAdmissionFixture(t)
	f.clock.Advance(365 * 24 * time.Hour)
	e := seedEvent(t, f.store, func(e *model.Event) {
		e.StartsAt = f.clock.Now().Add(10 * 24 * time.Hour)
	})
	p := f.admitN(t, e.ID, 1)[0]

	res, err := f.svc.CheckInPayload(ctx, p.ScanPayload, e.ID, 0)
	require.NoError(t, err)
	require.Equal(t, p.ID, res.Pass.ID)
}

func TestRevokePass(t *testing.T) {
	ctx := context.Background()
	f := newAdmissionFixture(t)
	e := seedEvent(t, f.store, nil)
	p := f.admitN(t, e.ID, 3)

	_, err := f.svc.RevokePass(ctx, p[0].ID, "  ", "ops")
	requireCode(t, err, apperr.CodeInvalidInput)

	rel, err := f.svc.RevokePass(ctx, p[0].ID, "resold the pass", "ops")
	require.NoError(t, err)
	require.Equal(t, model.PassRevoked, rel.Pass.Status)
	require.Equal(t, p[2].ID, rel.Promoted.ID)

	_, err = f.svc.CheckIn(ctx, p[0].ScanCode, e.ID, 0)
	requireCode(t, err, apperr.CodePassRevoked)
	ae, _ := apperr.As(err)
	require.Equal(t, "resold the pass", ae.Details["reason"])

	_, err = f.svc.RevokePass(ctx, uuid.New(), "gone", "ops")
	requireCode(t, err, apperr.CodePassNotFound)
}

func TestAccessRequestsAndBulkDecide(t *testing.T) {
	ctx := context.Background()
	f := newAdmissionFixture(t)
	e := seedEvent(t, f.store, func(e *model.Event) {
		c := 1
		e.Capacity = &c
		e.RequiresReview = true
	})
	direct := seedEvent(t, f.store, nil)

	_, err := f.svc.SubmitAccessRequest(ctx, uuid.New(), direct.ID, "")
	requireCode(t, err, apperr.CodeInvalidInput)

	var ids, users []uuid.UUID
	for range 3 {
		userID := uuid.New()
		req, err := f.svc.SubmitAccessRequest(ctx, userID, e.ID, " plus one ")
		require.NoError(t, err)
		require.Equal(t, "plus one", req.Note)
		ids = append(ids, req.ID)
		users = append(users, userID)
	}
	_, err = f.svc.SubmitAccessRequest(ctx, users[0], e.ID, "")
	requireCode(t, err, apperr.CodeRequestExists)

	stats, err := f.svc.EventStats(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 3, stats.PendingRequests)

	missing := uuid.New()
	res, err := f.svc.BulkDecide(ctx, BulkDecision{IDs: []uuid.UUID{ids[0], missing, ids[1]}, Approve: true, Actor: "ops"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, missing, res.Errors[0].ID)
	require.NotEmpty(t, res.Errors[0].Reason)

	// Second approval overflowed capacity into the waitlist.
	stats, err = f.svc.EventStats(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ByStatus[model.PassClaimed])
	require.Equal(t, 1, stats.ByStatus[model.PassWaitlisted])
	require.Equal(t, 1, stats.PendingRequests)

	// Already decided requests fail individually.
	res, err = f.svc.BulkDecide(ctx, BulkDecision{IDs: []uuid.UUID{ids[0], ids[2]}, Approve: false, Actor: "ops", Reason: "full"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Succeeded)
	require.Equal(t, 1, res.Failed)

	require.Equal(t, []notify.Kind{notify.KindApproved, notify.KindApproved, notify.KindDenied}, f.sent.kinds())

	_, err = f.svc.BulkDecide(ctx, BulkDecision{Approve: true, Actor: "ops"})
	requireCode(t, err, apperr.CodeInvalidInput)
}
