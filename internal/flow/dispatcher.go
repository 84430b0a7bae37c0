// Package flow decides how the relay answers each learner message.
//
// The Dispatcher routes a message by the learner's mode, runs the Active mode question
// state machine, and returns an Outcome: the immediate acknowledgement plus an optional
// background Task whose steps the delivery pipeline runs in order.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LearnRelay/internal/classifier"
	"github.com/BTreeMap/LearnRelay/internal/genai"
	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/prompt"
	"github.com/BTreeMap/LearnRelay/internal/session"
)

// errStaleFeedback aborts a difficulty update whose question is no longer current.
var errStaleFeedback = errors.New("feedback refers to a question that is no longer pending")

// Opts holds configuration options for the dispatcher.
type Opts struct {
	Classifier *classifier.Classifier
	Prompts    *prompt.Builder
	Policy     DifficultyPolicy
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithClassifier overrides the text classifier.
func WithClassifier(c *classifier.Classifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// WithPromptBuilder overrides the prompt builder.
func WithPromptBuilder(b *prompt.Builder) Option {
	return func(o *Opts) { o.Prompts = b }
}

// WithDifficultyPolicy overrides how answer feedback moves the difficulty level.
func WithDifficultyPolicy(p DifficultyPolicy) Option {
	return func(o *Opts) { o.Policy = p }
}

// Dispatcher routes inbound messages by the user's mode and runs the Active mode
// question state machine. All session mutations go through the session store's
// per-user lock.
type Dispatcher struct {
	sessions   *session.Store
	gen        genai.Completer
	classifier *classifier.Classifier
	prompts    *prompt.Builder
	policy     DifficultyPolicy
}

// NewDispatcher creates a dispatcher over the given session store and completion gateway.
func NewDispatcher(sessions *session.Store, gen genai.Completer, opts ...Option) *Dispatcher {
	cfg := Opts{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Classifier == nil {
		cfg.Classifier = classifier.Default
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompt.NewBuilder()
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultKeywordPolicy()
	}
	return &Dispatcher{
		sessions:   sessions,
		gen:        gen,
		classifier: cfg.Classifier,
		prompts:    cfg.Prompts,
		policy:     cfg.Policy,
	}
}

// Sessions returns the session store backing the dispatcher.
func (d *Dispatcher) Sessions() *session.Store {
	return d.sessions
}

// HistoryLimit is how many past turns the dispatcher's prompts may use.
func (d *Dispatcher) HistoryLimit() int {
	return d.prompts.HistoryLimit()
}

// Welcome creates the default session for a new follower.
func (d *Dispatcher) Welcome(userID string) models.UserSession {
	sess := d.sessions.Get(userID)
	slog.Info("Dispatcher.Welcome: session ready", "userID", userID, "mode", sess.Mode)
	return sess
}

// HandleIncoming decides the synchronous reply and the background task for one message.
func (d *Dispatcher) HandleIncoming(ctx context.Context, userID, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if userID == "" {
		return Outcome{}, fmt.Errorf("user ID is required")
	}

	if mode, ok := d.classifier.ModeSelection(text); ok {
		return d.switchMode(ctx, userID, mode)
	}
	if d.classifier.IsMenuRequest(text) {
		slog.Debug("Dispatcher.HandleIncoming: menu requested", "userID", userID)
		return immediate(prompt.ModeMenu()), nil
	}

	var out Outcome
	_, err := d.sessions.Update(userID, func(s *models.UserSession) error {
		switch s.Mode {
		case models.ModePassive:
			out = d.passive(userID, text)
		case models.ModeConstructive:
			out = d.constructive(userID, text)
		case models.ModeInteractive:
			out = d.interactive(userID, text)
		case models.ModeActive:
			out = d.active(ctx, userID, s, text)
		default:
			slog.Warn("Dispatcher.HandleIncoming: unknown mode", "userID", userID, "mode", s.Mode)
			out = immediate(prompt.UnknownMode)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("update session for %s: %w", userID, err)
	}
	return out, nil
}

// switchMode sets the user's mode and composes the confirmation. Entering Active mode
// issues the first question synchronously.
func (d *Dispatcher) switchMode(ctx context.Context, userID string, mode models.Mode) (Outcome, error) {
	var confirmation string
	_, err := d.sessions.Update(userID, func(s *models.UserSession) error {
		s.Mode = mode
		if mode != models.ModeActive {
			confirmation = prompt.ModeConfirmation(mode, "")
			return nil
		}

		a := s.EnsureActive()
		question, err := d.generateQuestion(ctx, a.DifficultyLevel)
		if err != nil {
			slog.Error("Dispatcher.switchMode: first question failed", "userID", userID, "level", a.DifficultyLevel, "error", err)
			a.Resolve()
			confirmation = prompt.ModeConfirmation(mode, "")
			return nil
		}
		a.Issue(question)
		confirmation = prompt.ModeConfirmation(mode, question)
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("switch mode for %s: %w", userID, err)
	}
	slog.Info("Dispatcher.switchMode: mode switched", "userID", userID, "mode", mode)
	return immediate(confirmation), nil
}

func (d *Dispatcher) passive(userID, text string) Outcome {
	return deferred(userID, prompt.ContextGeneralChat, Step{
		WithHistory: true,
		Build: func(in StepInput) genai.Request {
			return d.prompts.Passive(in.History, text)
		},
	})
}

func (d *Dispatcher) constructive(userID, text string) Outcome {
	return deferred(userID, prompt.ContextAnswerFeedback,
		Step{Build: func(StepInput) genai.Request {
			return d.prompts.ConstructiveExplain(text)
		}},
		Step{Build: func(in StepInput) genai.Request {
			return d.prompts.ConstructiveFollowUp(text, in.Previous)
		}},
	)
}

func (d *Dispatcher) interactive(userID, text string) Outcome {
	return deferred(userID, prompt.ContextGeneralChat, Step{
		WithHistory: true,
		Build: func(in StepInput) genai.Request {
			return d.prompts.Interactive(in.History, text)
		},
	})
}

// generateQuestion asks the gateway for a new question at the given level.
func (d *Dispatcher) generateQuestion(ctx context.Context, level int) (string, error) {
	q, err := d.gen.Complete(ctx, d.prompts.Question(level))
	if err != nil {
		return "", fmt.Errorf("generate question at level %d: %w", level, err)
	}
	return q, nil
}

// ApplyFeedback moves the user's difficulty level according to the generated feedback
// for question seq. Feedback for a question that has since been replaced is ignored.
func (d *Dispatcher) ApplyFeedback(userID string, seq int, feedback string) {
	var from, to int
	_, err := d.sessions.Update(userID, func(s *models.UserSession) error {
		a := s.Active
		if a == nil || a.QuestionSeq != seq {
			return errStaleFeedback
		}
		from = a.DifficultyLevel
		to = boundedLevel(from, d.policy.Adjust(from, feedback))
		a.DifficultyLevel = to
		return nil
	})
	if errors.Is(err, errStaleFeedback) {
		slog.Debug("Dispatcher.ApplyFeedback: stale feedback ignored", "userID", userID, "seq", seq)
		return
	}
	if err != nil {
		slog.Error("Dispatcher.ApplyFeedback: update failed", "userID", userID, "error", err)
		return
	}
	slog.Info("Dispatcher.ApplyFeedback: difficulty updated", "userID", userID, "from", from, "to", to)
}
