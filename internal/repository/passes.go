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
)

const passColumns = `id, user_id, event_id, status, scan_code, scan_payload,
	waitlist_position, checked_in_at, revoked_reason, created_at, updated_at`

func scanPass(row pgx.Row) (model.EventPass, error) {
	var (
		p      model.EventPass
		status string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.EventID, &status, &p.ScanCode, &p.ScanPayload,
		&p.WaitlistPosition, &p.CheckedInAt, &p.RevokedReason, &p.CreatedAt, &p.UpdatedAt)
	p.Status = model.PassStatus(status)
	return p, err
}

func writePass(ctx context.Context, tx pgx.Tx, p model.EventPass) error {
	_, err := tx.Exec(ctx,
		`UPDATE event_passes
		 SET status = $2, waitlist_position = $3, checked_in_at = $4, revoked_reason = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, string(p.Status), p.WaitlistPosition, p.CheckedInAt, p.RevokedReason, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update pass: %w", err)
	}
	return nil
}

// lockEvent acquires the row lock every capacity-affecting write is
// serialised on.
//
// Two admissions reading the confirmed count without this lock could both
// see one free slot and both insert a claimed pass. SELECT ... FOR UPDATE
// makes the second transaction wait until the first commits, so the count
// it reads already includes the first pass.
func lockEvent(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) (capacity *int, startsAt time.Time, err error) {
	err = tx.QueryRow(ctx,
		`SELECT capacity, starts_at FROM events WHERE id = $1 FOR UPDATE`,
		eventID,
	).Scan(&capacity, &startsAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, apperr.New(apperr.CodeEventNotFound, "event not found")
		}
		return nil, time.Time{}, fmt.Errorf("lock event row: %w", err)
	}
	return capacity, startsAt, nil
}

// Admit issues a claimed or waitlisted pass in one transaction.
func (s *Store) Admit(ctx context.Context, p AdmitParams) (model.EventPass, error) {
	var pass model.EventPass
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		pass, err = admitTx(ctx, tx, p)
		return err
	})
	return pass, err
}

func admitTx(ctx context.Context, tx pgx.Tx, p AdmitParams) (model.EventPass, error) {
	capacity, _, err := lockEvent(ctx, tx, p.EventID)
	if err != nil {
		return model.EventPass{}, err
	}

	var dup bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM event_passes
		   WHERE user_id = $1 AND event_id = $2 AND status NOT IN ('cancelled', 'revoked'))`,
		p.UserID, p.EventID,
	).Scan(&dup)
	if err != nil {
		return model.EventPass{}, fmt.Errorf("check duplicate: %w", err)
	}
	if dup {
		return model.EventPass{}, apperr.New(apperr.CodeAlreadyAdmitted, "already holding a pass for this event")
	}

	var confirmed, waitlisted int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FILTER (WHERE status IN ('claimed', 'used')),
		        count(*) FILTER (WHERE status = 'waitlisted')
		 FROM event_passes WHERE event_id = $1`,
		p.EventID,
	).Scan(&confirmed, &waitlisted)
	if err != nil {
		return model.EventPass{}, fmt.Errorf("count passes: %w", err)
	}

	pass := model.EventPass{
		ID:        uuid.New(),
		UserID:    p.UserID,
		EventID:   p.EventID,
		Status:    model.PassClaimed,
		CreatedAt: p.Now,
		UpdatedAt: p.Now,
	}
	if capacity != nil && *capacity > 0 && confirmed >= *capacity {
		pos := waitlisted + 1
		pass.Status = model.PassWaitlisted
		pass.WaitlistPosition = &pos
	}

	if pass.ScanCode, pass.ScanPayload, err = mintUnique(ctx, tx, p, pass.ID); err != nil {
		return model.EventPass{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO event_passes (`+passColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		pass.ID, pass.UserID, pass.EventID, string(pass.Status), pass.ScanCode, pass.ScanPayload,
		pass.WaitlistPosition, pass.CheckedInAt, pass.RevokedReason, pass.CreatedAt, pass.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return model.EventPass{}, apperr.New(apperr.CodeAlreadyAdmitted, "already holding a pass for this event")
		}
		return model.EventPass{}, fmt.Errorf("insert pass: %w", err)
	}
	return pass, nil
}

func mintUnique(ctx context.Context, tx pgx.Tx, p AdmitParams, passID uuid.UUID) (string, string, error) {
	for i := 0; i < maxMintAttempts; i++ {
		code, payload, err := p.Mint(passID, p.UserID, p.EventID, p.Now)
		if err != nil {
			return "", "", fmt.Errorf("mint pass code: %w", err)
		}
		var taken bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM event_passes WHERE scan_code = $1)`, code,
		).Scan(&taken); err != nil {
			return "", "", fmt.Errorf("check scan code: %w", err)
		}
		if !taken {
			return code, payload, nil
		}
	}
	return "", "", errors.New("mint pass code: too many collisions")
}

// Cancel cancels the user's active pass and promotes the head of the
// waitlist into a freed slot, all in one transaction.
func (s *Store) Cancel(ctx context.Context, userID, eventID uuid.UUID, now time.Time) (Release, error) {
	var rel Release
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		_, startsAt, err := lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !now.Before(startsAt) {
			return apperr.New(apperr.CodeEventStarted, "event has already started")
		}

		pass, err := scanPass(tx.QueryRow(ctx,
			`SELECT `+passColumns+` FROM event_passes
			 WHERE user_id = $1 AND event_id = $2 AND status NOT IN ('cancelled', 'revoked')
			 FOR UPDATE`,
			userID, eventID,
		))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.CodePassNotFound, "no active pass for this event")
			}
			return fmt.Errorf("lock pass: %w", err)
		}

		rel, err = release(ctx, tx, pass, now, func(p model.EventPass) (model.EventPass, error) {
			return p.Cancel(now)
		})
		return err
	})
	return rel, err
}

// Revoke withdraws a pass by id, promoting from the waitlist like Cancel.
func (s *Store) Revoke(ctx context.Context, passID uuid.UUID, reason string, now time.Time) (Release, error) {
	var rel Release
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var eventID uuid.UUID
		err := tx.QueryRow(ctx, `SELECT event_id FROM event_passes WHERE id = $1`, passID).Scan(&eventID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.CodePassNotFound, "pass not found")
			}
			return fmt.Errorf("find pass: %w", err)
		}
		if _, _, err := lockEvent(ctx, tx, eventID); err != nil {
			return err
		}
		pass, err := scanPass(tx.QueryRow(ctx,
			`SELECT `+passColumns+` FROM event_passes WHERE id = $1 FOR UPDATE`, passID))
		if err != nil {
			return fmt.Errorf("lock pass: %w", err)
		}

		rel, err = release(ctx, tx, pass, now, func(p model.EventPass) (model.EventPass, error) {
			return p.Revoke(reason, now)
		})
		return err
	})
	return rel, err
}

// release applies a terminal transition and, when a confirmed slot was
// freed, promotes the lowest waitlist position and renumbers the rest.
// The caller holds the event lock.
func release(ctx context.Context, tx pgx.Tx, pass model.EventPass, now time.Time,
	transition func(model.EventPass) (model.EventPass, error)) (Release, error) {
	freedSlot := pass.Status.HoldsSlot()
	next, err := transition(pass)
	if err != nil {
		return Release{}, err
	}
	if err := writePass(ctx, tx, next); err != nil {
		return Release{}, err
	}
	rel := Release{Pass: next}

	if freedSlot {
		head, err := scanPass(tx.QueryRow(ctx,
			`SELECT `+passColumns+` FROM event_passes
			 WHERE event_id = $1 AND status = 'waitlisted'
			 ORDER BY waitlist_position ASC, created_at ASC
			 LIMIT 1
			 FOR UPDATE`,
			pass.EventID,
		))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
		case err != nil:
			return Release{}, fmt.Errorf("find waitlist head: %w", err)
		default:
			promoted, err := head.Promote(now)
			if err != nil {
				return Release{}, err
			}
			if err := writePass(ctx, tx, promoted); err != nil {
				return Release{}, err
			}
			rel.Promoted = &promoted
		}
	}

	if err := renumberWaitlist(ctx, tx, pass.EventID, now); err != nil {
		return Release{}, err
	}
	return rel, nil
}

func renumberWaitlist(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx,
		`UPDATE event_passes p
		 SET waitlist_position = r.rn, updated_at = $2
		 FROM (
		   SELECT id, row_number() OVER (ORDER BY waitlist_position ASC, created_at ASC) AS rn
		   FROM event_passes
		   WHERE event_id = $1 AND status = 'waitlisted'
		 ) r
		 WHERE p.id = r.id AND p.waitlist_position IS DISTINCT FROM r.rn`,
		eventID, now,
	)
	if err != nil {
		return fmt.Errorf("renumber waitlist: %w", err)
	}
	return nil
}

// CheckIn marks the addressed pass as used.
func (s *Store) CheckIn(ctx context.Context, key PassKey, eventID uuid.UUID, now time.Time) (model.EventPass, error) {
	var out model.EventPass
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var row pgx.Row
		if key.Code != "" {
			row = tx.QueryRow(ctx, `SELECT `+passColumns+` FROM event_passes WHERE scan_code = $1 FOR UPDATE`, key.Code)
		} else {
			row = tx.QueryRow(ctx, `SELECT `+passColumns+` FROM event_passes WHERE id = $1 FOR UPDATE`, key.ID)
		}
		pass, err := scanPass(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.New(apperr.CodePassNotFound, "pass not found")
			}
			return fmt.Errorf("lock pass: %w", err)
		}
		if pass.EventID != eventID {
			return apperr.New(apperr.CodeWrongEvent, "pass belongs to a different event")
		}
		next, err := pass.CheckIn(now)
		if err != nil {
			return err
		}
		if err := writePass(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

// ActivePass returns the user's non-cancelled, non-revoked pass, or nil.
func (s *Store) ActivePass(ctx context.Context, userID, eventID uuid.UUID) (*model.EventPass, error) {
	p, err := scanPass(s.db.QueryRow(ctx,
		`SELECT `+passColumns+` FROM event_passes
		 WHERE user_id = $1 AND event_id = $2 AND status NOT IN ('cancelled', 'revoked')`,
		userID, eventID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get pass: %w", err)
	}
	return &p, nil
}

// ListPasses returns every pass for an event, confirmed first, then the
// waitlist in order.
func (s *Store) ListPasses(ctx context.Context, eventID uuid.UUID) ([]model.EventPass, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+passColumns+` FROM event_passes
		 WHERE event_id = $1
		 ORDER BY waitlist_position ASC NULLS FIRST, created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var passes []model.EventPass
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

// PassCounts returns pass counts per status for an event.
func (s *Store) PassCounts(ctx context.Context, eventID uuid.UUID) (map[model.PassStatus]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT status, count(*) FROM event_passes WHERE event_id = $1 GROUP BY status`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("count passes: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.PassStatus]int, len(model.PassStatuses))
	for _, st := range model.PassStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.PassStatus(status)] = n
	}
	return counts, rows.Err()
}
