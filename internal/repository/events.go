package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/layergate/internal/apperr"
	"github.com/Shivanand-hulikatti/layergate/internal/model"
	"github.com/Shivanand-hulikatti/layergate/internal/tier"
)

const eventColumns = `id, name, description, city, area, venue_name, venue_address,
	starts_at, ends_at, capacity, required_tier, requires_review, reputation_points,
	time_reveal_hours_before, location_reveal_hours_before, location_tier, created_at`

func scanEvent(row pgx.Row) (model.Event, error) {
	var (
		e                     model.Event
		required, locationMin int
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.City, &e.Area, &e.VenueName, &e.VenueAddress,
		&e.StartsAt, &e.EndsAt, &e.Capacity, &required, &e.RequiresReview, &e.ReputationPoints,
		&e.Reveal.TimeRevealHoursBefore, &e.Reveal.LocationRevealHoursBefore, &locationMin, &e.CreatedAt,
	)
	e.RequiredTier = tier.Tier(required)
	e.Reveal.LocationTier = tier.Tier(locationMin)
	return e, err
}

// CreateEvent inserts e.
func (s *Store) CreateEvent(ctx context.Context, e model.Event) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		e.ID, e.Name, e.Description, e.City, e.Area, e.VenueName, e.VenueAddress,
		e.StartsAt, e.EndsAt, e.Capacity, int(e.RequiredTier), e.RequiresReview, e.ReputationPoints,
		e.Reveal.TimeRevealHoursBefore, e.Reveal.LocationRevealHoursBefore, int(e.Reveal.LocationTier), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns all events ordered by start time.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY starts_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetEvent returns one event or EVENT_NOT_FOUND.
func (s *Store) GetEvent(ctx context.Context, id uuid.UUID) (model.Event, error) {
	e, err := scanEvent(s.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Event{}, apperr.New(apperr.CodeEventNotFound, "event not found")
		}
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}
