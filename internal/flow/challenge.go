package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/prompt"
)

// ChallengeRecipient is a learner due for the daily challenge.
type ChallengeRecipient struct {
	UserID string
	Level  string
}

// ChallengeRecipients lists every learner currently in Active mode with their tier.
func (d *Dispatcher) ChallengeRecipients() []ChallengeRecipient {
	var out []ChallengeRecipient
	d.sessions.Range(func(userID string, s models.UserSession) bool {
		if s.Mode != models.ModeActive {
			return true
		}
		level := models.MinDifficulty
		if s.Active != nil {
			level = s.Active.DifficultyLevel
		}
		out = append(out, ChallengeRecipient{UserID: userID, Level: prompt.ChallengeLevel(level)})
		return true
	})
	return out
}

// DailyChallenge generates the full daily challenge message for a tier. Generation
// failures fall back to a static notice.
func (d *Dispatcher) DailyChallenge(ctx context.Context, level string) string {
	challenge, err := d.gen.Complete(ctx, d.prompts.DailyChallenge(level))
	if err != nil {
		slog.Error("Dispatcher.DailyChallenge: generation failed", "level", level, "error", err)
		challenge = prompt.ChallengeFallback
	}
	return prompt.DailyChallengeMessage(level, challenge)
}
