// Package scheduler pushes the daily C challenge to learners in Active mode.
//
// Jobs are scheduled with 5-field cron expressions.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// ChallengeSource lists recipients and composes the challenge message for a level.
type ChallengeSource interface {
	ChallengeRecipients() []Recipient
	DailyChallenge(ctx context.Context, level string) string
}

// Recipient is a learner due for the daily challenge.
type Recipient struct {
	UserID string
	Level  string
}

// Announcer pushes an unsolicited message and records it.
type Announcer interface {
	Announce(ctx context.Context, userID, text string) error
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// ScheduleDailyChallenge runs RunDailyChallenge on every tick of expr.
func (s *Scheduler) ScheduleDailyChallenge(ctx context.Context, expr string, src ChallengeSource, out Announcer) error {
	if err := s.AddJob(expr, func() { RunDailyChallenge(ctx, src, out) }); err != nil {
		return err
	}
	slog.Info("Scheduler.ScheduleDailyChallenge: daily challenge scheduled", "cron", expr)
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunDailyChallenge sends one challenge to every recipient. Each level is generated once
// per run. It returns the number of messages delivered.
func RunDailyChallenge(ctx context.Context, src ChallengeSource, out Announcer) int {
	recipients := src.ChallengeRecipients()
	if len(recipients) == 0 {
		slog.Debug("RunDailyChallenge: no recipients")
		return 0
	}

	byLevel := make(map[string]string)
	sent := 0
	for _, r := range recipients {
		if ctx.Err() != nil {
			slog.Warn("RunDailyChallenge: cancelled", "sent", sent)
			break
		}
		msg, ok := byLevel[r.Level]
		if !ok {
			msg = src.DailyChallenge(ctx, r.Level)
			byLevel[r.Level] = msg
		}
		if err := out.Announce(ctx, r.UserID, msg); err != nil {
			slog.Error("RunDailyChallenge: push failed", "userID", r.UserID, "level", r.Level, "error", err)
			continue
		}
		sent++
	}
	slog.Info("RunDailyChallenge: challenges sent", "sent", sent, "recipients", len(recipients), "levels", len(byLevel))
	return sent
}
