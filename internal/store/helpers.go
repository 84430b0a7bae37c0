package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// scanTurns reads rows ordered newest first and returns them oldest first.
func scanTurns(rows *sql.Rows) ([]models.ConversationTurn, error) {
	var turns []models.ConversationTurn
	for rows.Next() {
		var t models.ConversationTurn
		var kind string
		if err := rows.Scan(&t.UserID, &t.UserText, &t.BotText, &kind, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		t.Kind = models.TurnKind(kind)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	reverse(turns)
	return turns, nil
}

func reverse(turns []models.ConversationTurn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}

// claimed reports whether an insert-or-ignore added a row.
func claimed(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
