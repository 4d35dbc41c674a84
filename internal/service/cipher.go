package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/cipher"
	"github.com/Shivanand-hulikatti/layergate/internal/logger"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

// CipherService runs the second-factor state machine.
type CipherService struct {
	store  CredentialStore
	policy cipher.Policy
	sealer *cipher.Sealer
	log    *zap.Logger
	now    func() time.Time
}

func NewCipherService(store CredentialStore, policy cipher.Policy, sealer *cipher.Sealer, log *zap.Logger, opts ...Option) *CipherService {
	o := buildOptions(opts)
	return &CipherService{store: store, policy: policy, sealer: sealer, log: log.Named("cipher"), now: o.now}
}

// StartEnrollmentInput is what a member submits to begin enrollment.
type StartEnrollmentInput struct {
	UserID     uuid.UUID
	InviteCode string
	CallSign   string
	Device     string
}

// Enrollment is returned once, at generation time. The recovery codes and
// the secret are never shown again.
type Enrollment struct {
	CallSign      string    `json:"call_sign"`
	Secret        string    `json:"secret"`
	URI           string    `json:"uri"`
	RecoveryCodes []string  `json:"recovery_codes"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// StartEnrollment validates the invite and call sign and stores a pending
// enrollment keyed to the user and device.
func (s *CipherService) StartEnrollment(ctx context.Context, in StartEnrollmentInput) (Enrollment, error) {
	in.CallSign = strings.TrimSpace(in.CallSign)
	if !cipher.ValidCallSign(in.CallSign) {
		return Enrollment{}, apperr.New(apperr.CodeInvalidCallSign,
			"call sign must be 3 to 32 letters, digits or underscores")
	}
	if strings.TrimSpace(in.Device) == "" {
		return Enrollment{}, apperr.New(apperr.CodeInvalidInput, "device fingerprint is required")
	}
	now := s.now()

	_, err := readOnce(ctx, func(ctx context.Context) (model.CipherCredential, error) {
		return s.store.GetCredential(ctx, in.UserID)
	})
	switch {
	case err == nil:
		return Enrollment{}, apperr.New(apperr.CodeAlreadyEnrolled, "cipher already enrolled")
	case !apperr.Is(err, apperr.CodeNotEnrolled):
		return Enrollment{}, err
	}

	code := cipher.NormalizeInviteCode(in.InviteCode)
	if _, err := s.usableInvite(ctx, code, now); err != nil {
		return Enrollment{}, err
	}

	taken, err := readOnce(ctx, func(ctx context.Context) (bool, error) {
		return s.store.CallSignTaken(ctx, in.CallSign, in.UserID, now)
	})
	if err != nil {
		return Enrollment{}, err
	}
	if taken {
		return Enrollment{}, apperr.New(apperr.CodeCallSignTaken, "call sign is taken")
	}

	prov, err := s.policy.NewSecret(in.CallSign)
	if err != nil {
		return Enrollment{}, apperr.Transient(err)
	}
	codes, err := cipher.GenerateRecoveryCodes(s.policy.RecoveryCodes)
	if err != nil {
		return Enrollment{}, apperr.Transient(err)
	}
	sealed, err := s.sealer.Seal(prov.Secret)
	if err != nil {
		return Enrollment{}, apperr.Transient(err)
	}

	pending := model.PendingEnrollment{
		UserID:         in.UserID,
		CallSign:       in.CallSign,
		SealedSecret:   sealed,
		Device:         in.Device,
		RecoveryHashes: cipher.HashRecoveryCodes(codes),
		InviteCode:     code,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.policy.EnrollmentTTL),
	}
	if err := s.store.SavePending(ctx, pending); err != nil {
		return Enrollment{}, apperr.Normalize(err)
	}

	s.log.Info("enrollment started", zap.String("user_id", in.UserID.String()), zap.String("call_sign", in.CallSign))
	return Enrollment{
		CallSign:      in.CallSign,
		Secret:        prov.Secret,
		URI:           prov.URI,
		RecoveryCodes: codes,
		ExpiresAt:     pending.ExpiresAt,
	}, nil
}

func (s *CipherService) usableInvite(ctx context.Context, code string, now time.Time) (model.InviteCode, error) {
	inv, err := readOnce(ctx, func(ctx context.Context) (model.InviteCode, error) {
		return s.store.GetInvite(ctx, code)
	})
	if apperr.Is(err, apperr.CodeInviteNotFound) {
		return model.InviteCode{}, apperr.New(apperr.CodeInvalidInvite, "invalid invite code")
	}
	if err != nil {
		return model.InviteCode{}, err
	}
	if chk := inv.Check(now); !chk.Valid {
		return model.InviteCode{}, apperr.New(apperr.CodeInvalidInvite, chk.Message)
	}
	return inv, nil
}

// EnrollmentResult confirms a committed credential.
type EnrollmentResult struct {
	CallSign               string    `json:"call_sign"`
	BaseTier               tier.Tier `json:"base_tier"`
	RecoveryCodesRemaining int       `json:"recovery_codes_remaining"`
}

// VerifyEnrollment checks the first code against the pending secret and,
// on a match, commits the credential bound to the enrolling device.
// Mismatches never lock; there is no credential yet.
func (s *CipherService) VerifyEnrollment(ctx context.Context, userID uuid.UUID, code string) (EnrollmentResult, error) {
	if !cipher.ValidCodeFormat(code) {
		return EnrollmentResult{}, apperr.New(apperr.CodeInvalidCodeFormat, "code must be 6 digits")
	}
	now := s.now()

	pending, err := readOnce(ctx, func(ctx context.Context) (model.PendingEnrollment, error) {
		return s.store.GetPending(ctx, userID)
	})
	if err != nil {
		return EnrollmentResult{}, err
	}
	if pending.Expired(now) {
		return EnrollmentResult{}, apperr.New(apperr.CodeEnrollmentNotStarted, "enrollment expired, start again")
	}

	secret, err := s.sealer.Open(pending.SealedSecret)
	if err != nil {
		return EnrollmentResult{}, apperr.Transient(err)
	}
	if !s.policy.Check(secret, code, now) {
		return EnrollmentResult{}, apperr.New(apperr.CodeInvalidCode, "code did not match")
	}

	inv, err := s.usableInvite(ctx, pending.InviteCode, now)
	if err != nil {
		return EnrollmentResult{}, err
	}

	cred := model.CipherCredential{
		UserID:         userID,
		CallSign:       pending.CallSign,
		SealedSecret:   pending.SealedSecret,
		TrustedDevice:  pending.Device,
		BaseTier:       inv.DefaultTier,
		RecoveryHashes: pending.RecoveryHashes,
		EnrolledAt:     now,
		UpdatedAt:      now,
	}
	if err := s.store.CommitEnrollment(ctx, pending, cred, now); err != nil {
		return EnrollmentResult{}, apperr.Normalize(err)
	}

	s.audit(ctx, model.AuditEntry{
		UserID:  userID,
		Action:  model.AuditEnrollmentCompleted,
		Device:  cred.TrustedDevice,
		Success: true,
		Details: map[string]string{"call_sign": cred.CallSign, "base_tier": cred.BaseTier.String()},
	})
	return EnrollmentResult{
		CallSign:               cred.CallSign,
		BaseTier:               cred.BaseTier,
		RecoveryCodesRemaining: len(cred.RecoveryHashes),
	}, nil
}

// VerifyResult is returned on a successful login verification.
type VerifyResult struct {
	CallSign               string `json:"call_sign"`
	RecoveryCodesRemaining int    `json:"recovery_codes_remaining"`
	ShouldRegenerate       bool   `json:"should_regenerate"`
}

// Verify checks a login code from a device. Only the trusted device can
// authenticate with a code; every other device is sent to recovery.
func (s *CipherService) Verify(ctx context.Context, userID uuid.UUID, code, device string) (VerifyResult, error) {
	if !cipher.ValidCodeFormat(code) {
		return VerifyResult{}, apperr.New(apperr.CodeInvalidCodeFormat, "code must be 6 digits")
	}
	now := s.now()

	var outcome cipher.Outcome
	cred, err := s.store.UpdateCredential(ctx, userID, func(c model.CipherCredential) (model.CipherCredential, error) {
		next, o, err := s.attempt(c, code, device, now)
		outcome = o
		return next, err
	})
	s.auditAttempt(ctx, userID, device, outcome, err)
	if err != nil {
		return VerifyResult{}, s.authFailure(err, apperr.CodeInvalidCode)
	}
	return VerifyResult{
		CallSign:               cred.CallSign,
		RecoveryCodesRemaining: len(cred.RecoveryHashes),
		ShouldRegenerate:       s.policy.ShouldRegenerate(len(cred.RecoveryHashes)),
	}, nil
}

// attempt is one pass of a code through the device check and the lockout
// guard. Refusals that never reach the code report StillLocked. It runs
// under the credential row lock, so it must not touch the store itself.
func (s *CipherService) attempt(c model.CipherCredential, code, device string, now time.Time) (model.CipherCredential, cipher.Outcome, error) {
	if device != c.TrustedDevice {
		return c, cipher.StillLocked, apperr.New(apperr.CodeNewDeviceDetected, "unrecognised device, use a recovery code")
	}
	g := c.Guard()
	if g.LockedAt(now) {
		return c, cipher.StillLocked, lockedError(*g.LockedUntil)
	}

	secret, err := s.sealer.Open(c.SealedSecret)
	if err != nil {
		return c, cipher.StillLocked, err
	}
	next, outcome := s.policy.Attempt(g, now, s.policy.Check(secret, code, now))
	c = c.WithGuard(next)
	c.UpdatedAt = now

	switch outcome {
	case cipher.Rejected:
		return c, outcome, apperr.New(apperr.CodeInvalidCode, "code did not match",
			apperr.WithDetail("attempts_remaining", strconv.Itoa(s.policy.AttemptsLeft(next))))
	case cipher.LockedNow, cipher.StillLocked:
		return c, outcome, lockedError(*next.LockedUntil)
	}
	return c, outcome, nil
}

// auditAttempt records the outcome of a committed code attempt. Refusals
// that never reached the code, and failed writes, leave no entry.
func (s *CipherService) auditAttempt(ctx context.Context, userID uuid.UUID, device string, outcome cipher.Outcome, err error) {
	e := model.AuditEntry{UserID: userID, Device: device}
	switch {
	case outcome == cipher.Accepted && err == nil:
		e.Action, e.Success = model.AuditLoginSuccess, true
	case outcome == cipher.Rejected && apperr.Is(err, apperr.CodeInvalidCode):
		e.Action = model.AuditLoginFailed
	case outcome == cipher.LockedNow && apperr.Is(err, apperr.CodeAccountLocked):
		e.Action = model.AuditAccountLocked
		if d, ok := apperr.As(err); ok {
			e.Details = map[string]string{"locked_until": d.Details["locked_until"]}
		}
	default:
		return
	}
	s.audit(ctx, e)
}

// audit logs e and persists it. A failed write is logged, never returned:
// the audited change has already committed.
func (s *CipherService) audit(ctx context.Context, e model.AuditEntry) {
	e.ID = uuid.New()
	e.CreatedAt = s.now()

	fields := []zap.Field{
		zap.String("user_id", e.UserID.String()),
		zap.Bool("success", e.Success),
	}
	if e.Actor != "" {
		fields = append(fields, zap.String("actor", e.Actor))
	}
	for _, k := range slices.Sorted(maps.Keys(e.Details)) {
		fields = append(fields, zap.String(k, e.Details[k]))
	}
	logger.Audit(s.log, string(e.Action)).Info("cipher audit", fields...)

	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit entry not persisted", zap.String("action", string(e.Action)), zap.Error(err))
	}
}

func lockedError(until time.Time) error {
	return apperr.New(apperr.CodeAccountLocked, "too many failed attempts, try again later",
		apperr.WithDetail("locked_until", until.UTC().Format(time.RFC3339)))
}

// authFailure hides whether the user exists: NOT_ENROLLED becomes the
// generic failure for the flow.
func (s *CipherService) authFailure(err error, generic apperr.Code) error {
	if apperr.Is(err, apperr.CodeNotEnrolled) {
		return apperr.New(generic, genericMessage(generic))
	}
	return apperr.Normalize(err)
}

func genericMessage(code apperr.Code) string {
	if code == apperr.CodeInvalidRecoveryCode {
		return "recovery code not recognised"
	}
	return "code did not match"
}

// RecoveryResult is returned after a successful recovery.
type RecoveryResult struct {
	RecoveryCodesRemaining int    `json:"recovery_codes_remaining"`
	ShouldRegenerate       bool   `json:"should_regenerate"`
	Warning                string `json:"warning,omitempty"`
}

// RedeemRecoveryCode consumes one recovery code and rebinds the credential
// to device. Wrong codes do not touch the lockout counter; guessing is
// throttled in front of this call.
func (s *CipherService) RedeemRecoveryCode(ctx context.Context, userID uuid.UUID, code, device string) (RecoveryResult, error) {
	if strings.TrimSpace(device) == "" {
		return RecoveryResult{}, apperr.New(apperr.CodeInvalidInput, "device fingerprint is required")
	}
	if !cipher.ValidRecoveryFormat(code) {
		return RecoveryResult{}, apperr.New(apperr.CodeInvalidRecoveryCode, genericMessage(apperr.CodeInvalidRecoveryCode))
	}
	now := s.now()

	var previous string
	cred, err := s.store.UpdateCredential(ctx, userID, func(c model.CipherCredential) (model.CipherCredential, error) {
		idx := cipher.MatchRecoveryCode(c.RecoveryHashes, code)
		if idx < 0 {
			return c, apperr.New(apperr.CodeInvalidRecoveryCode, genericMessage(apperr.CodeInvalidRecoveryCode))
		}
		previous = c.TrustedDevice
		c = c.WithoutRecoveryCode(idx).WithGuard(cipher.Reset())
		c.TrustedDevice = device
		c.UpdatedAt = now
		return c, nil
	})
	if apperr.Is(err, apperr.CodeInvalidRecoveryCode) {
		s.audit(ctx, model.AuditEntry{UserID: userID, Action: model.AuditRecoveryCodeUsed, Device: device})
	}
	if err != nil {
		return RecoveryResult{}, s.authFailure(err, apperr.CodeInvalidRecoveryCode)
	}

	remaining := len(cred.RecoveryHashes)
	s.audit(ctx, model.AuditEntry{
		UserID:  userID,
		Action:  model.AuditRecoveryCodeUsed,
		Device:  device,
		Success: true,
		Details: map[string]string{"recovery_codes_remaining": strconv.Itoa(remaining)},
	})
	if previous != device {
		s.audit(ctx, model.AuditEntry{UserID: userID, Action: model.AuditDeviceChanged, Device: device, Success: true})
	}
	res := RecoveryResult{RecoveryCodesRemaining: remaining, ShouldRegenerate: s.policy.ShouldRegenerate(remaining)}
	if res.ShouldRegenerate {
		res.Warning = fmt.Sprintf("Only %d recovery codes remaining. Regenerate them soon.", remaining)
	}
	return res, nil
}

// RegenerateRecoveryCodes replaces the whole recovery set. It needs a
// current code from the trusted device, and a wrong code counts toward
// the lockout like any other attempt.
func (s *CipherService) RegenerateRecoveryCodes(ctx context.Context, userID uuid.UUID, code, device string) ([]string, error) {
	if !cipher.ValidCodeFormat(code) {
		return nil, apperr.New(apperr.CodeInvalidCodeFormat, "code must be 6 digits")
	}
	codes, err := cipher.GenerateRecoveryCodes(s.policy.RecoveryCodes)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	now := s.now()

	var outcome cipher.Outcome
	_, err = s.store.UpdateCredential(ctx, userID, func(c model.CipherCredential) (model.CipherCredential, error) {
		next, o, err := s.attempt(c, code, device, now)
		outcome = o
		if err != nil {
			return next, err
		}
		next.RecoveryHashes = cipher.HashRecoveryCodes(codes)
		return next, nil
	})
	if err != nil {
		s.auditAttempt(ctx, userID, device, outcome, err)
		return nil, s.authFailure(err, apperr.CodeInvalidCode)
	}

	s.audit(ctx, model.AuditEntry{UserID: userID, Action: model.AuditRecoveryRegenerated, Device: device, Success: true})
	return codes, nil
}

// Status describes the caller's credential. device may be empty, in which
// case no condition is reported.
func (s *CipherService) Status(ctx context.Context, userID uuid.UUID, device string) (model.CipherStatus, error) {
	now := s.now()
	cred, err := readOnce(ctx, func(ctx context.Context) (model.CipherCredential, error) {
		return s.store.GetCredential(ctx, userID)
	})
	if apperr.Is(err, apperr.CodeNotEnrolled) {
		st := model.CipherStatus{State: cipher.Unenrolled}
		pending, err := readOnce(ctx, func(ctx context.Context) (model.PendingEnrollment, error) {
			return s.store.GetPending(ctx, userID)
		})
		switch {
		case err == nil && !pending.Expired(now):
			st.State = cipher.Enrolling
			st.CallSign = pending.CallSign
		case err != nil && !apperr.Is(err, apperr.CodeEnrollmentNotStarted):
			return model.CipherStatus{}, err
		}
		return st, nil
	}
	if err != nil {
		return model.CipherStatus{}, err
	}

	remaining := len(cred.RecoveryHashes)
	st := model.CipherStatus{
		Enrolled:               true,
		State:                  cipher.Active,
		CallSign:               cred.CallSign,
		EnrolledAt:             &cred.EnrolledAt,
		FailedAttempts:         cred.FailedAttempts,
		RecoveryCodesRemaining: remaining,
		ShouldRegenerate:       s.policy.ShouldRegenerate(remaining),
	}
	if g := cred.Guard(); g.LockedAt(now) {
		st.LockedUntil = g.LockedUntil
	}
	if device != "" {
		cond := cipher.ConditionOf(cred.Guard(), cred.TrustedDevice, device, now)
		st.Condition = &cond
	}
	return st, nil
}

// Unlock clears the failure counter and any lock.
func (s *CipherService) Unlock(ctx context.Context, userID uuid.UUID, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return apperr.New(apperr.CodeInvalidInput, "actor is required")
	}
	now := s.now()
	_, err := s.store.UpdateCredential(ctx, userID, func(c model.CipherCredential) (model.CipherCredential, error) {
		c = c.WithGuard(cipher.Reset())
		c.UpdatedAt = now
		return c, nil
	})
	if err != nil {
		return apperr.Normalize(err)
	}
	s.audit(ctx, model.AuditEntry{UserID: userID, Action: model.AuditAccountUnlocked, Actor: actor, Success: true})
	return nil
}

// SetBaseTier changes the tier floor a member keeps regardless of stats.
func (s *CipherService) SetBaseTier(ctx context.Context, userID uuid.UUID, t tier.Tier, actor string) (model.CipherCredential, error) {
	switch {
	case !t.Valid():
		return model.CipherCredential{}, apperr.New(apperr.CodeInvalidInput, "unknown tier")
	case strings.TrimSpace(actor) == "":
		return model.CipherCredential{}, apperr.New(apperr.CodeInvalidInput, "actor is required")
	}
	now := s.now()

	var previous tier.Tier
	cred, err := s.store.UpdateCredential(ctx, userID, func(c model.CipherCredential) (model.CipherCredential, error) {
		previous = c.BaseTier
		c.BaseTier = t
		c.UpdatedAt = now
		return c, nil
	})
	if err != nil {
		return model.CipherCredential{}, apperr.Normalize(err)
	}
	s.audit(ctx, model.AuditEntry{
		UserID:  userID,
		Action:  model.AuditTierChanged,
		Actor:   actor,
		Success: true,
		Details: map[string]string{"from": previous.String(), "to": t.String()},
	})
	return cred, nil
}

// Audit limits.
const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// AuditLog lists persisted cipher audit entries, newest first. A limit of
// zero selects the default page.
func (s *CipherService) AuditLog(ctx context.Context, q model.AuditQuery) ([]model.AuditEntry, error) {
	switch {
	case q.Limit < 0:
		return nil, apperr.New(apperr.CodeInvalidInput, "limit cannot be negative")
	case q.Limit == 0:
		q.Limit = defaultAuditLimit
	case q.Limit > maxAuditLimit:
		q.Limit = maxAuditLimit
	}
	return readOnce(ctx, func(ctx context.Context) ([]model.AuditEntry, error) {
		return s.store.ListAudit(ctx, q)
	})
}

// ValidateInvite answers whether an invite can start an enrollment.
func (s *CipherService) ValidateInvite(ctx context.Context, code string) (model.InviteCheck, error) {
	inv, err := readOnce(ctx, func(ctx context.Context) (model.InviteCode, error) {
		return s.store.GetInvite(ctx, cipher.NormalizeInviteCode(code))
	})
	if apperr.Is(err, apperr.CodeInviteNotFound) {
		return model.InviteCheck{Message: "Invalid invite code"}, nil
	}
	if err != nil {
		return model.InviteCheck{}, err
	}
	return inv.Check(s.now()), nil
}

// ListInvites returns every invite, newest first.
func (s *CipherService) ListInvites(ctx context.Context) ([]model.InviteCode, error) {
	return readOnce(ctx, s.store.ListInvites)
}

// CreateInviteInput describes a new invite.
type CreateInviteInput struct {
	DefaultTier tier.Tier
	MaxUses     int
	// ExpiresIn zero means the invite never expires.
	ExpiresIn time.Duration
	Actor     string
}

// CreateInvite mints a COMM-XXXX-XXXX invite.
func (s *CipherService) CreateInvite(ctx context.Context, in CreateInviteInput) (model.InviteCode, error) {
	switch {
	case !in.DefaultTier.Valid():
		return model.InviteCode{}, apperr.New(apperr.CodeInvalidInput, "unknown default tier")
	case in.MaxUses < 0:
		return model.InviteCode{}, apperr.New(apperr.CodeInvalidInput, "max uses cannot be negative")
	case in.ExpiresIn < 0:
		return model.InviteCode{}, apperr.New(apperr.CodeInvalidInput, "expiry cannot be in the past")
	case strings.TrimSpace(in.Actor) == "":
		return model.InviteCode{}, apperr.New(apperr.CodeInvalidInput, "actor is required")
	}

	code, err := cipher.NewInviteCode()
	if err != nil {
		return model.InviteCode{}, apperr.Transient(err)
	}
	now := s.now()
	inv := model.InviteCode{
		Code:        code,
		DefaultTier: in.DefaultTier,
		MaxUses:     in.MaxUses,
		CreatedBy:   in.Actor,
		CreatedAt:   now,
	}
	if in.ExpiresIn > 0 {
		exp := now.Add(in.ExpiresIn)
		inv.ExpiresAt = &exp
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return model.InviteCode{}, apperr.Normalize(err)
	}
	s.log.Info("invite created", zap.String("code", code), zap.String("actor", in.Actor))
	return inv, nil
}

// RevokeInvite makes an invite unusable for future enrollments.
func (s *CipherService) RevokeInvite(ctx context.Context, code, actor string) error {
	if err := s.store.RevokeInvite(ctx, cipher.NormalizeInviteCode(code)); err != nil {
		return apperr.Normalize(err)
	}
	s.log.Info("invite revoked", zap.String("code", code), zap.String("actor", actor))
	return nil
}
