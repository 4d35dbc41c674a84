// Package repository implements all persistence for layergate.
// It uses pgx directly (no ORM); every multi-step write runs in one
// transaction that first locks the row it is scoped to.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
)

// maxMintAttempts bounds scan-code collision retries.
const maxMintAttempts = 8

// Mint produces the scan code and signed payload for a new pass.
type Mint func(passID, userID, eventID uuid.UUID, issuedAt time.Time) (code, payload string, err error)

// AdmitParams describes one admission.
type AdmitParams struct {
	UserID  uuid.UUID
	EventID uuid.UUID
	Now     time.Time
	Mint    Mint
}

// Release is the outcome of a cancellation or revocation: the pass that
// left, and the waitlisted pass promoted into its slot, if any.
type Release struct {
	Pass     model.EventPass
	Promoted *model.EventPass
}

// PassKey addresses a pass at check-in, by scan code or by id.
type PassKey struct {
	Code string
	ID   uuid.UUID
}

// Decision is one item of a bulk approve or deny.
type Decision struct {
	RequestID uuid.UUID
	Approve   bool
	Actor     string
	Reason    string
	Now       time.Time
	Mint      Mint
}

// CredentialMutation computes the next credential. A mutation failing with
// INVALID_CODE or ACCOUNT_LOCKED is still written back and committed, so a
// failed attempt records its counter; any other error rolls back.
type CredentialMutation func(model.CipherCredential) (model.CipherCredential, error)

func recordsFailure(err error) bool {
	return apperr.Is(err, apperr.CodeInvalidCode) || apperr.Is(err, apperr.CodeAccountLocked)
}

// Store is the PostgreSQL implementation of every store interface.
type Store struct {
	db *pgxpool.Pool
}

// New constructs a Store.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// inTx runs fn in a transaction, committing only if fn returns nil.
func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const uniqueViolation = "23505"

func uniqueConstraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
