package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/layergate/internal/model"
)

// Stats returns a member's stat triple. Members with no row have zero stats.
func (s *Store) Stats(ctx context.Context, userID uuid.UUID) (model.MemberStats, error) {
	var st model.MemberStats
	err := s.db.QueryRow(ctx,
		`SELECT marks_owned, events_attended, referrals_made FROM member_stats WHERE user_id = $1`, userID,
	).Scan(&st.MarksOwned, &st.EventsAttended, &st.ReferralsMade)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MemberStats{}, nil
		}
		return model.MemberStats{}, fmt.Errorf("get member stats: %w", err)
	}
	return st, nil
}
