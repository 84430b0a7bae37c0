package store

import (
	"context"
	"fmt"
	"time"
)

var _ EventLog = (*SQLiteStore)(nil)

func (s *SQLiteStore) ClaimEvent(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, user_id, received_at) VALUES (?, ?, ?) ON CONFLICT (event_id) DO NOTHING`,
		eventID, userID, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return claimed(res)
}

func (s *SQLiteStore) CompleteEvent(ctx context.Context, eventID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE webhook_events SET handled_at = ? WHERE event_id = ? AND handled_at IS NULL`,
		time.Now().UTC(), eventID,
	); err != nil {
		return fmt.Errorf("complete event %s: %w", eventID, err)
	}
	return nil
}

func (s *SQLiteStore) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE received_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}
