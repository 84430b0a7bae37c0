package store

import (
	"context"
	"fmt"
	"time"
)

var _ EventLog = (*PostgresStore)(nil)

func (s *PostgresStore) ClaimEvent(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, user_id, received_at) VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING`,
		eventID, userID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return claimed(res)
}

func (s *PostgresStore) CompleteEvent(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET handled_at = $1 WHERE event_id = $2 AND handled_at IS NULL`,
		time.Now(), eventID,
	); err != nil {
		return fmt.Errorf("complete event %s: %w", eventID, err)
	}
	return nil
}

func (s *PostgresStore) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
