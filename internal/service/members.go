package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

// CredentialReader is the read side of CredentialStore.
type CredentialReader interface {
	GetCredential(ctx context.Context, userID uuid.UUID) (model.CipherCredential, error)
}

// MemberService resolves tiers. Stats only count once the member holds an
// active second factor; until then everyone is OUTSIDE.
type MemberService struct {
	creds CredentialReader
	stats StatsStore
}

func NewMemberService(creds CredentialReader, stats StatsStore) *MemberService {
	return &MemberService{creds: creds, stats: stats}
}

// EffectiveTier is the higher of the invite's base tier and the stat
// tier, for enrolled members.
func (s *MemberService) EffectiveTier(ctx context.Context, userID uuid.UUID) (tier.Tier, error) {
	t, _, err := s.resolve(ctx, userID)
	return t, err
}

func (s *MemberService) resolve(ctx context.Context, userID uuid.UUID) (tier.Tier, model.MemberStats, error) {
	cred, err := readOnce(ctx, func(ctx context.Context) (model.CipherCredential, error) {
		return s.creds.GetCredential(ctx, userID)
	})
	if apperr.Is(err, apperr.CodeNotEnrolled) {
		return tier.Outside, model.MemberStats{}, nil
	}
	if err != nil {
		return tier.Outside, model.MemberStats{}, err
	}

	stats, err := readOnce(ctx, func(ctx context.Context) (model.MemberStats, error) {
		return s.stats.Stats(ctx, userID)
	})
	if err != nil {
		return tier.Outside, model.MemberStats{}, err
	}
	return max(cred.BaseTier, tier.Of(stats)), stats, nil
}

// MemberProgress is the member's tier standing.
type MemberProgress struct {
	EffectiveTier tier.Tier `json:"effective_tier"`
	tier.Progress
}

// Progress reports the effective tier and stat progress toward the next
// stat tier.
func (s *MemberService) Progress(ctx context.Context, userID uuid.UUID) (MemberProgress, error) {
	t, stats, err := s.resolve(ctx, userID)
	if err != nil {
		return MemberProgress{}, err
	}
	return MemberProgress{EffectiveTier: t, Progress: tier.ProgressToward(stats)}, nil
}
