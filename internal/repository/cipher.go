package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

const inviteColumns = `code, default_tier, max_uses, uses, expires_at, revoked, created_by, created_at`

func scanInvite(row pgx.Row) (model.InviteCode, error) {
	var (
		i           model.InviteCode
		defaultTier int
	)
	err := row.Scan(&i.Code, &defaultTier, &i.MaxUses, &i.Uses, &i.ExpiresAt, &i.Revoked, &i.CreatedBy, &i.CreatedAt)
	i.DefaultTier = tier.Tier(defaultTier)
	return i, err
}

// GetInvite returns an invite or INVITE_NOT_FOUND.
func (s *Store) GetInvite(ctx context.Context, code string) (model.InviteCode, error) {
	i, err := scanInvite(s.db.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invite_codes WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.InviteCode{}, apperr.New(apperr.CodeInviteNotFound, "invite not found")
		}
		return model.InviteCode{}, fmt.Errorf("get invite: %w", err)
	}
	return i, nil
}

// CreateInvite inserts a new invite.
func (s *Store) CreateInvite(ctx context.Context, i model.InviteCode) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO invite_codes (`+inviteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		i.Code, int(i.DefaultTier), i.MaxUses, i.Uses, i.ExpiresAt, i.Revoked, i.CreatedBy, i.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

// ListInvites returns every invite, newest first.
func (s *Store) ListInvites(ctx context.Context) ([]model.InviteCode, error) {
	rows, err := s.db.Query(ctx, `SELECT `+inviteColumns+` FROM invite_codes ORDER BY created_at DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	defer rows.Close()

	var out []model.InviteCode
	for rows.Next() {
		i, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// RevokeInvite marks an invite unusable.
func (s *Store) RevokeInvite(ctx context.Context, code string) error {
	tag, err := s.db.Exec(ctx, `UPDATE invite_codes SET revoked = TRUE WHERE code = $1`, code)
	if err != nil {
		return fmt.Errorf("revoke invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeInviteNotFound, "invite not found")
	}
	return nil
}

// CallSignTaken reports whether another user holds callSign, either on a
// credential or on an unexpired pending enrollment.
func (s *Store) CallSignTaken(ctx context.Context, callSign string, userID uuid.UUID, now time.Time) (bool, error) {
	var taken bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM cipher_credentials WHERE lower(call_sign) = lower($1))
		     OR EXISTS (SELECT 1 FROM cipher_pending
		                WHERE lower(call_sign) = lower($1) AND user_id <> $2 AND expires_at > $3)`,
		callSign, userID, now,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check call sign: %w", err)
	}
	return taken, nil
}

// SavePending stores or replaces the user's pending enrollment.
func (s *Store) SavePending(ctx context.Context, p model.PendingEnrollment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO cipher_pending (user_id, call_sign, sealed_secret, device, recovery_hashes, invite_code, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id) DO UPDATE SET
		   call_sign = EXCLUDED.call_sign, sealed_secret = EXCLUDED.sealed_secret, device = EXCLUDED.device,
		   recovery_hashes = EXCLUDED.recovery_hashes, invite_code = EXCLUDED.invite_code,
		   created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		p.UserID, p.CallSign, p.SealedSecret, p.Device, p.RecoveryHashes, p.InviteCode, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save pending enrollment: %w", err)
	}
	return nil
}

// GetPending returns the user's pending enrollment or ENROLLMENT_NOT_STARTED.
func (s *Store) GetPending(ctx context.Context, userID uuid.UUID) (model.PendingEnrollment, error) {
	var p model.PendingEnrollment
	err := s.db.QueryRow(ctx,
		`SELECT user_id, call_sign, sealed_secret, device, recovery_hashes, invite_code, created_at, expires_at
		 FROM cipher_pending WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.CallSign, &p.SealedSecret, &p.Device, &p.RecoveryHashes, &p.InviteCode, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PendingEnrollment{}, apperr.New(apperr.CodeEnrollmentNotStarted, "no enrollment in progress")
		}
		return model.PendingEnrollment{}, fmt.Errorf("get pending enrollment: %w", err)
	}
	return p, nil
}

// CommitEnrollment redeems the invite, creates the credential and drops
// the pending record in one transaction.
func (s *Store) CommitEnrollment(ctx context.Context, p model.PendingEnrollment, c model.CipherCredential, now time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE invite_codes SET uses = uses + 1
			 WHERE code = $1 AND NOT revoked
			   AND (max_uses = 0 OR uses < max_uses)
			   AND (expires_at IS NULL OR expires_at > $2)`,
			p.InviteCode, now,
		)
		if err != nil {
			return fmt.Errorf("redeem invite: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.New(apperr.CodeInvalidInvite, "invite is no longer valid")
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO cipher_credentials (`+credentialColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.UserID, c.CallSign, c.SealedSecret, c.TrustedDevice, int(c.BaseTier),
			c.FailedAttempts, c.LockedUntil, c.RecoveryHashes, c.EnrolledAt, c.UpdatedAt,
		)
		if err != nil {
			if constraint, ok := uniqueConstraint(err); ok {
				if constraint == "cipher_credentials_pkey" {
					return apperr.New(apperr.CodeAlreadyEnrolled, "already enrolled")
				}
				return apperr.New(apperr.CodeCallSignTaken, "call sign is taken")
			}
			return fmt.Errorf("insert credential: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cipher_pending WHERE user_id = $1`, p.UserID); err != nil {
			return fmt.Errorf("delete pending enrollment: %w", err)
		}
		return nil
	})
}

const credentialColumns = `user_id, call_sign, sealed_secret, trusted_device, base_tier,
	failed_attempts, locked_until, recovery_hashes, enrolled_at, updated_at`

func scanCredential(row pgx.Row) (model.CipherCredential, error) {
	var (
		c    model.CipherCredential
		base int
	)
	err := row.Scan(&c.UserID, &c.CallSign, &c.SealedSecret, &c.TrustedDevice, &base,
		&c.FailedAttempts, &c.LockedUntil, &c.RecoveryHashes, &c.EnrolledAt, &c.UpdatedAt)
	c.BaseTier = tier.Tier(base)
	return c, err
}

// GetCredential returns the user's credential or NOT_ENROLLED.
func (s *Store) GetCredential(ctx context.Context, userID uuid.UUID) (model.CipherCredential, error) {
	c, err := scanCredential(s.db.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM cipher_credentials WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CipherCredential{}, apperr.New(apperr.CodeNotEnrolled, "not enrolled")
		}
		return model.CipherCredential{}, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// UpdateCredential locks the credential row, applies fn and writes the
// result back. Concurrent attempts for one user are serialised on the row
// lock, so each one sees the counter the previous one wrote.
func (s *Store) UpdateCredential(ctx context.Context, userID uuid.UUID, fn CredentialMutation) (model.CipherCredential, error) {
	var (
		out     model.CipherCredential
		outcome error
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		cur, err := scanCredential(tx.QueryRow(ctx,
			`SELECT `+credentialColumns+` FROM cipher_credentials WHERE user_id = $1 FOR UPDATE`, userID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.CodeNotEnrolled, "not enrolled")
			}
			return fmt.Errorf("lock credential: %w", err)
		}

		next, fnErr := fn(cur)
		if fnErr != nil && !recordsFailure(fnErr) {
			return fnErr
		}
		outcome = fnErr

		_, err = tx.Exec(ctx,
			`UPDATE cipher_credentials
			 SET trusted_device = $2, failed_attempts = $3, locked_until = $4,
			     recovery_hashes = $5, sealed_secret = $6, base_tier = $7, updated_at = $8
			 WHERE user_id = $1`,
			next.UserID, next.TrustedDevice, next.FailedAttempts, next.LockedUntil,
			next.RecoveryHashes, next.SealedSecret, int(next.BaseTier), next.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update credential: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return model.CipherCredential{}, err
	}
	return out, outcome
}

// AppendAudit records one cipher audit entry.
func (s *Store) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO cipher_audit_log (id, user_id, action, actor, device, success, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.UserID, string(e.Action), e.Actor, e.Device, e.Success, e.Details, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries newest first, optionally for one user.
func (s *Store) ListAudit(ctx context.Context, q model.AuditQuery) ([]model.AuditEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, action, actor, device, success, details, created_at
		 FROM cipher_audit_log
		 WHERE $1::uuid IS NULL OR user_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		q.UserID, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e      model.AuditEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &action, &e.Actor, &e.Device, &e.Success, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = model.AuditAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
