// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/repository"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

// EventStore persists events.
type EventStore interface {
	CreateEvent(ctx context.Context, e model.Event) error
	ListEvents(ctx context.Context) ([]model.Event, error)
	GetEvent(ctx context.Context, id uuid.UUID) (model.Event, error)
}

// PassStore persists passes. Admit, Cancel, Revoke and CheckIn are each a
// single atomic unit.
type PassStore interface {
	Admit(ctx context.Context, p repository.AdmitParams) (model.EventPass, error)
	Cancel(ctx context.Context, userID, eventID uuid.UUID, now time.Time) (repository.Release, error)
	Revoke(ctx context.Context, passID uuid.UUID, reason string, now time.Time) (repository.Release, error)
	CheckIn(ctx context.Context, key repository.PassKey, eventID uuid.UUID, now time.Time) (model.EventPass, error)
	ActivePass(ctx context.Context, userID, eventID uuid.UUID) (*model.EventPass, error)
	ListPasses(ctx context.Context, eventID uuid.UUID) ([]model.EventPass, error)
	PassCounts(ctx context.Context, eventID uuid.UUID) (map[model.PassStatus]int, error)
}

// RequestStore persists access requests.
type RequestStore interface {
	CreateRequest(ctx context.Context, r model.AccessRequest) error
	Decide(ctx context.Context, d repository.Decision) (model.AccessRequest, *model.EventPass, error)
	PendingRequests(ctx context.Context, eventID uuid.UUID) (int, error)
}

// CredentialStore persists invites, pending enrollments and credentials.
type CredentialStore interface {
	GetInvite(ctx context.Context, code string) (model.InviteCode, error)
	ListInvites(ctx context.Context) ([]model.InviteCode, error)
	CreateInvite(ctx context.Context, i model.InviteCode) error
	RevokeInvite(ctx context.Context, code string) error
	CallSignTaken(ctx context.Context, callSign string, userID uuid.UUID, now time.Time) (bool, error)
	SavePending(ctx context.Context, p model.PendingEnrollment) error
	GetPending(ctx context.Context, userID uuid.UUID) (model.PendingEnrollment, error)
	CommitEnrollment(ctx context.Context, p model.PendingEnrollment, c model.CipherCredential, now time.Time) error
	GetCredential(ctx context.Context, userID uuid.UUID) (model.CipherCredential, error)
	UpdateCredential(ctx context.Context, userID uuid.UUID, fn repository.CredentialMutation) (model.CipherCredential, error)
	AppendAudit(ctx context.Context, e model.AuditEntry) error
	ListAudit(ctx context.Context, q model.AuditQuery) ([]model.AuditEntry, error)
}

// StatsStore reads member stats.
type StatsStore interface {
	Stats(ctx context.Context, userID uuid.UUID) (model.MemberStats, error)
}

// TierSource resolves the tier a user may act with.
type TierSource interface {
	EffectiveTier(ctx context.Context, userID uuid.UUID) (tier.Tier, error)
}

// Option configures a service.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// readOnce runs a read-only store call, retrying once on a transient
// failure. Writes must never go through here.
func readOnce[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err != nil && apperr.KindOf(err) == apperr.KindTransient && ctx.Err() == nil {
		v, err = fn(ctx)
	}
	return v, apperr.Normalize(err)
}
