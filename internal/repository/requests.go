package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
)

const requestColumns = `id, user_id, event_id, status, note, decided_by, decided_at, reason, created_at`

func scanRequest(row pgx.Row) (model.AccessRequest, error) {
	var (
		r      model.AccessRequest
		status string
	)
	err := row.Scan(&r.ID, &r.UserID, &r.EventID, &status, &r.Note, &r.DecidedBy, &r.DecidedAt, &r.Reason, &r.CreatedAt)
	r.Status = model.RequestStatus(status)
	return r, err
}

// CreateRequest inserts a pending request. A second open request for the
// same user and event fails with REQUEST_EXISTS.
func (s *Store) CreateRequest(ctx context.Context, r model.AccessRequest) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO access_requests (`+requestColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.UserID, r.EventID, string(r.Status), r.Note, r.DecidedBy, r.DecidedAt, r.Reason, r.CreatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return apperr.New(apperr.CodeRequestExists, "an access request for this event already exists")
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Decide applies one bulk decision. Approval admits the requester in the
// same transaction, so a request is never approved without its pass.
func (s *Store) Decide(ctx context.Context, d Decision) (model.AccessRequest, *model.EventPass, error) {
	var (
		out  model.AccessRequest
		pass *model.EventPass
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		req, err := scanRequest(tx.QueryRow(ctx,
			`SELECT `+requestColumns+` FROM access_requests WHERE id = $1 FOR UPDATE`, d.RequestID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.CodeRequestNotFound, "request not found")
			}
			return fmt.Errorf("lock request: %w", err)
		}

		next, err := req.Decide(d.Approve, d.Actor, d.Reason, d.Now)
		if err != nil {
			return err
		}
		if d.Approve {
			p, err := admitTx(ctx, tx, AdmitParams{UserID: req.UserID, EventID: req.EventID, Now: d.Now, Mint: d.Mint})
			if err != nil {
				return err
			}
			pass = &p
		}

		_, err = tx.Exec(ctx,
			`UPDATE access_requests SET status = $2, decided_by = $3, decided_at = $4, reason = $5 WHERE id = $1`,
			next.ID, string(next.Status), next.DecidedBy, next.DecidedAt, next.Reason,
		)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		out = next
		return nil
	})
	return out, pass, err
}

// PendingRequests counts pending requests for an event.
func (s *Store) PendingRequests(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM access_requests WHERE event_id = $1 AND status = 'pending'`, eventID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return n, nil
}
