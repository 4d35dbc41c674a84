package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/layergate/internal/cipher"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

// InviteCode admits a new member into enrollment.
type InviteCode struct {
	Code        string    `json:"code"`
	DefaultTier tier.Tier `json:"default_tier"`
	// MaxUses 0 means unlimited.
	MaxUses   int        `json:"max_uses"`
	Uses      int        `json:"uses"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Revoked   bool       `json:"revoked"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
}

// InviteCheck is the public answer to "is this invite usable?".
type InviteCheck struct {
	Valid       bool       `json:"valid"`
	DefaultTier *tier.Tier `json:"default_tier,omitempty"`
	Message     string     `json:"message"`
}

// Check evaluates the invite at now.
func (i InviteCode) Check(now time.Time) InviteCheck {
	switch {
	case i.Revoked:
		return InviteCheck{Message: "This invite has been revoked"}
	case i.ExpiresAt != nil && !now.Before(*i.ExpiresAt):
		return InviteCheck{Message: "This invite has expired"}
	case i.MaxUses > 0 && i.Uses >= i.MaxUses:
		return InviteCheck{Message: "This invite has been fully used"}
	}
	t := i.DefaultTier
	return InviteCheck{Valid: true, DefaultTier: &t, Message: "Invite accepted"}
}

// PendingEnrollment holds a generated secret until the first code proves
// the member loaded it.
type PendingEnrollment struct {
	UserID         uuid.UUID
	CallSign       string
	SealedSecret   string
	Device         string
	RecoveryHashes []string
	InviteCode     string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the pending record can no longer be verified.
func (p PendingEnrollment) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// CipherCredential is a member's committed second factor. SealedSecret is
// never serialised.
type CipherCredential struct {
	UserID         uuid.UUID  `json:"user_id"`
	CallSign       string     `json:"call_sign"`
	SealedSecret   string     `json:"-"`
	TrustedDevice  string     `json:"-"`
	BaseTier       tier.Tier  `json:"base_tier"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	RecoveryHashes []string   `json:"-"`
	EnrolledAt     time.Time  `json:"enrolled_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Guard returns the lockout bookkeeping.
func (c CipherCredential) Guard() cipher.Guard {
	return cipher.Guard{FailedAttempts: c.FailedAttempts, LockedUntil: c.LockedUntil}
}

// WithGuard returns a copy carrying g.
func (c CipherCredential) WithGuard(g cipher.Guard) CipherCredential {
	c.FailedAttempts = g.FailedAttempts
	c.LockedUntil = g.LockedUntil
	return c
}

// WithoutRecoveryCode returns a copy with the hash at idx removed.
func (c CipherCredential) WithoutRecoveryCode(idx int) CipherCredential {
	hashes := make([]string, 0, len(c.RecoveryHashes))
	hashes = append(hashes, c.RecoveryHashes[:idx]...)
	c.RecoveryHashes = append(hashes, c.RecoveryHashes[idx+1:]...)
	return c
}

// CipherStatus is the self-service view of a credential.
type CipherStatus struct {
	Enrolled               bool              `json:"enrolled"`
	State                  cipher.State      `json:"state"`
	Condition              *cipher.Condition `json:"condition,omitempty"`
	CallSign               string            `json:"call_sign,omitempty"`
	EnrolledAt             *time.Time        `json:"enrolled_at,omitempty"`
	FailedAttempts         int               `json:"failed_attempts"`
	LockedUntil            *time.Time        `json:"locked_until,omitempty"`
	RecoveryCodesRemaining int               `json:"recovery_codes_remaining"`
	ShouldRegenerate       bool              `json:"should_regenerate"`
}

// AuditAction names a security-relevant cipher event.
type AuditAction string

const (
	AuditEnrollmentCompleted AuditAction = "enrollment_completed"
	AuditLoginSuccess        AuditAction = "login_success"
	AuditLoginFailed         AuditAction = "login_failed"
	AuditAccountLocked       AuditAction = "account_locked"
	AuditRecoveryCodeUsed    AuditAction = "recovery_code_used"
	AuditDeviceChanged       AuditAction = "device_changed"
	AuditRecoveryRegenerated AuditAction = "recovery_codes_regenerated"
	AuditAccountUnlocked     AuditAction = "account_unlocked"
	AuditTierChanged         AuditAction = "tier_changed"
)

// AuditEntry is one persisted cipher audit record.
type AuditEntry struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"user_id"`
	Action    AuditAction       `json:"action"`
	Actor     string            `json:"actor,omitempty"`
	Device    string            `json:"device,omitempty"`
	Success   bool              `json:"success"`
	Details   map[string]string `json:"details,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AuditQuery selects audit entries, newest first. A nil UserID matches
// every member.
type AuditQuery struct {
	UserID *uuid.UUID
	Limit  int
}
