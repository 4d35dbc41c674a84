package repository

import (
	"context"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/database"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

// newPostgresStore migrates a throwaway schema on DATABASE_URL and drops
// it when the test ends.
func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	schema := "layergate_test_" + uuid.NewString()[:8]

	admin, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close(context.Background()) })
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE") })

	cfg, err := pgxpool.ParseConfig(url)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	cfg.MaxConns = 16
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.Migrate(ctx, pool))
	return New(pool)
}

// uuidMint is safe for concurrent use, unlike seqMint.
func uuidMint(passID, _, _ uuid.UUID, _ time.Time) (string, string, error) {
	return passID.String(), "payload-" + passID.String(), nil
}

func seedPostgresEvent(t *testing.T, s *Store, capacity int) model.Event {
	t.Helper()
	e := model.Event{
		ID:        uuid.New(),
		Name:      "Rooftop",
		City:      "Bengaluru",
		StartsAt:  now.Add(72 * time.Hour),
		Capacity:  &capacity,
		Reveal:    model.DefaultRevealConfig(),
		CreatedAt: now,
	}
	require.NoError(t, s.CreateEvent(context.Background(), e))
	return e
}

func waitlistPositions(t *testing.T, s *Store, eventID uuid.UUID) map[uuid.UUID]int {
	t.Helper()
	passes, err := s.ListPasses(context.Background(), eventID)
	require.NoError(t, err)
	out := map[uuid.UUID]int{}
	for _, p := range passes {
		if p.Status == model.PassWaitlisted {
			out[p.ID] = *p.WaitlistPosition
		}
	}
	return out
}

func requireContiguous(t *testing.T, positions map[uuid.UUID]int) {
	t.Helper()
	var got []int
	for _, pos := range positions {
		got = append(got, pos)
	}
	sort.Ints(got)
	for i, pos := range got {
		require.Equal(t, i+1, pos, "positions %v", got)
	}
}

func TestPostgresAdmitNeverOverbooks(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	const capacity, users = 5, 30
	e := seedPostgresEvent(t, s, capacity)

	var g errgroup.Group
	for i := range users {
		g.Go(func() error {
			_, err := s.Admit(ctx, AdmitParams{
				UserID:  uuid.New(),
				EventID: e.ID,
				Now:     now.Add(time.Duration(i) * time.Millisecond),
				Mint:    uuidMint,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	counts, err := s.PassCounts(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, capacity, counts[model.PassClaimed])
	require.Equal(t, users-capacity, counts[model.PassWaitlisted])

	positions := waitlistPositions(t, s, e.ID)
	require.Len(t, positions, users-capacity)
	requireContiguous(t, positions)

	// One active pass per member, even against the database.
	passes, err := s.ListPasses(ctx, e.ID)
	require.NoError(t, err)
	_, err = s.Admit(ctx, AdmitParams{UserID: passes[0].UserID, EventID: e.ID, Now: now, Mint: uuidMint})
	require.True(t, apperr.Is(err, apperr.CodeAlreadyAdmitted), "%v", err)
}

func TestPostgresReleasePromotesAndRenumbers(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	e := seedPostgresEvent(t, s, 2)

	var passes []model.EventPass
	for i := range 5 {
		p, err := s.Admit(ctx, AdmitParams{UserID: uuid.New(), EventID: e.ID, Now: now.Add(time.Duration(i) * time.Second), Mint: uuidMint})
		require.NoError(t, err)
		passes = append(passes, p)
	}
	require.Equal(t, model.PassClaimed, passes[1].Status)
	require.Equal(t, 3, *passes[4].WaitlistPosition)

	rel, err := s.Cancel(ctx, passes[0].UserID, e.ID, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, model.PassCancelled, rel.Pass.Status)
	require.NotNil(t, rel.Promoted)
	require.Equal(t, passes[2].ID, rel.Promoted.ID)
	require.Equal(t, model.PassClaimed, rel.Promoted.Status)
	require.Nil(t, rel.Promoted.WaitlistPosition)

	positions := waitlistPositions(t, s, e.ID)
	require.Equal(t, map[uuid.UUID]int{passes[3].ID: 1, passes[4].ID: 2}, positions)

	// A waitlisted pass leaving promotes nobody but closes the gap.
	rel, err = s.Revoke(ctx, passes[3].ID, "duplicate account", now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Nil(t, rel.Promoted)
	require.Equal(t, map[uuid.UUID]int{passes[4].ID: 1}, waitlistPositions(t, s, e.ID))

	counts, err := s.PassCounts(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 2, counts[model.PassClaimed])

	_, err = s.Cancel(ctx, passes[0].UserID, e.ID, now.Add(time.Minute))
	require.True(t, apperr.Is(err, apperr.CodePassNotFound), "%v", err)
}

func TestPostgresDecideAdmitsInOneTransaction(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	e := seedPostgresEvent(t, s, 1)

	var ids []uuid.UUID
	for range 2 {
		r := model.AccessRequest{ID: uuid.New(), UserID: uuid.New(), EventID: e.ID, Status: model.RequestPending, CreatedAt: now}
		require.NoError(t, s.CreateRequest(ctx, r))
		ids = append(ids, r.ID)
	}

	decide := func(id uuid.UUID) (model.AccessRequest, *model.EventPass, error) {
		return s.Decide(ctx, Decision{RequestID: id, Approve: true, Actor: "curator", Now: now, Mint: uuidMint})
	}
	req, pass, err := decide(ids[0])
	require.NoError(t, err)
	require.Equal(t, model.RequestApproved, req.Status)
	require.Equal(t, model.PassClaimed, pass.Status)

	_, pass, err = decide(ids[1])
	require.NoError(t, err)
	require.Equal(t, 1, *pass.WaitlistPosition)

	_, _, err = decide(ids[0])
	require.True(t, apperr.Is(err, apperr.CodeNotPending), "%v", err)
	counts, err := s.PassCounts(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.PassClaimed])
	require.Equal(t, 1, counts[model.PassWaitlisted])

	pending, err := s.PendingRequests(ctx, e.ID)
	require.NoError(t, err)
	require.Zero(t, pending)

	_, _, err = decide(uuid.New())
	require.True(t, apperr.Is(err, apperr.CodeRequestNotFound), "%v", err)
}

func commitCredential(t *testing.T, s *Store, callSign string) (uuid.UUID, error) {
	t.Helper()
	userID := uuid.New()
	p := model.PendingEnrollment{UserID: userID, CallSign: callSign, InviteCode: "COMM-OPEN-0000", ExpiresAt: now.Add(time.Hour)}
	c := model.CipherCredential{
		UserID:         userID,
		CallSign:       callSign,
		SealedSecret:   "sealed",
		TrustedDevice:  "laptop",
		BaseTier:       tier.Initiate,
		RecoveryHashes: []string{"h1", "h2"},
		EnrolledAt:     now,
		UpdatedAt:      now,
	}
	return userID, s.CommitEnrollment(context.Background(), p, c, now)
}

func TestPostgresCredentialUpdatesAreSerialised(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	require.NoError(t, s.CreateInvite(ctx, model.InviteCode{Code: "COMM-OPEN-0000", DefaultTier: tier.Initiate, CreatedAt: now}))

	userID, err := commitCredential(t, s, "NightOwl")
	require.NoError(t, err)
	_, err = commitCredential(t, s, "nightowl")
	require.True(t, apperr.Is(err, apperr.CodeCallSignTaken), "%v", err)

	inv, err := s.GetInvite(ctx, "COMM-OPEN-0000")
	require.NoError(t, err)
	require.Equal(t, 1, inv.Uses)

	const attempts = 12
	var g errgroup.Group
	for range attempts {
		g.Go(func() error {
			_, err := s.UpdateCredential(ctx, userID, func(c model.CipherCredential) (model.CipherCredential, error) {
				c.FailedAttempts++
				return c, apperr.New(apperr.CodeInvalidCode, "wrong")
			})
			if !apperr.Is(err, apperr.CodeInvalidCode) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	c, err := s.GetCredential(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, attempts, c.FailedAttempts)

	// Other failures roll back.
	_, err = s.UpdateCredential(ctx, userID, func(c model.CipherCredential) (model.CipherCredential, error) {
		c.FailedAttempts = 0
		return c, apperr.New(apperr.CodeNewDeviceDetected, "device")
	})
	require.True(t, apperr.Is(err, apperr.CodeNewDeviceDetected))

	_, err = s.UpdateCredential(ctx, userID, func(c model.CipherCredential) (model.CipherCredential, error) {
		c.BaseTier = tier.InnerCircle
		return c, nil
	})
	require.NoError(t, err)

	c, err = s.GetCredential(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, attempts, c.FailedAttempts)
	require.Equal(t, tier.InnerCircle, c.BaseTier)
}

func TestPostgresInvitesAndAudit(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	for i, code := range []string{"COMM-0001-AAAA", "COMM-0002-AAAA"} {
		require.NoError(t, s.CreateInvite(ctx, model.InviteCode{Code: code, MaxUses: 1, CreatedAt: now.Add(time.Duration(i) * time.Minute)}))
	}
	invites, err := s.ListInvites(ctx)
	require.NoError(t, err)
	require.Len(t, invites, 2)
	require.Equal(t, "COMM-0002-AAAA", invites[0].Code)

	owl, fox := uuid.New(), uuid.New()
	for i, e := range []model.AuditEntry{
		{UserID: owl, Action: model.AuditLoginFailed},
		{UserID: fox, Action: model.AuditLoginSuccess, Success: true},
		{UserID: owl, Action: model.AuditTierChanged, Actor: "ops", Success: true, Details: map[string]string{"to": "MEMBER"}},
	} {
		e.ID = uuid.New()
		e.CreatedAt = now.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.AppendAudit(ctx, e))
	}

	got, err := s.ListAudit(ctx, model.AuditQuery{UserID: &owl, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, model.AuditTierChanged, got[0].Action)
	require.Equal(t, "MEMBER", got[0].Details["to"])
	require.Equal(t, "ops", got[0].Actor)
	require.Nil(t, got[1].Details)

	got, err = s.ListAudit(ctx, model.AuditQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, fox, got[1].UserID)
}
