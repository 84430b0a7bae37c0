package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/LearnRelay/internal/classifier"
	"github.com/BTreeMap/LearnRelay/internal/genai"
	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/prompt"
)

// masteryThreshold is the off-topic count that, once the learner has answered,
// moves on to a new question.
const masteryThreshold = 2

type questionKind int

const (
	questionFresh questionKind = iota
	questionSkip
	questionMastery
)

// active runs the Active mode state machine. The caller holds the user's lock.
func (d *Dispatcher) active(ctx context.Context, userID string, s *models.UserSession, text string) Outcome {
	a := s.EnsureActive()
	if !a.Pending() {
		return d.issueQuestion(ctx, userID, a, questionFresh)
	}

	intent := d.classifier.ClassifyPending(text)
	slog.Debug("Dispatcher.active: classified", "userID", userID, "intent", intent, "seq", a.QuestionSeq)

	switch intent {
	case classifier.IntentReveal:
		question := a.LastQuestion
		a.Resolve()
		return deferred(userID, prompt.ContextExplainAnswer, Step{Build: func(StepInput) genai.Request {
			return d.prompts.Reveal(question)
		}})

	case classifier.IntentSkip:
		return d.issueQuestion(ctx, userID, a, questionSkip)

	case classifier.IntentAnswer:
		a.Responded = true
		a.IrrelevantCount = 0
		question, seq := a.LastQuestion, a.QuestionSeq
		return deferred(userID, prompt.ContextAnswerFeedback, Step{
			Build: func(StepInput) genai.Request {
				return d.prompts.Feedback(question, text)
			},
			After: func(feedback string) {
				d.ApplyFeedback(userID, seq, feedback)
			},
		})

	case classifier.IntentFollowUp:
		a.IrrelevantCount = 0
		question := a.LastQuestion
		return deferred(userID, prompt.ContextFollowUpConcept, Step{Build: func(StepInput) genai.Request {
			return d.prompts.FollowUp(question, text)
		}})

	default:
		a.IrrelevantCount++
		if a.Responded && a.IrrelevantCount >= masteryThreshold {
			return d.issueQuestion(ctx, userID, a, questionMastery)
		}
		return immediate(prompt.Nudge)
	}
}

// issueQuestion generates a question now so the session never points at a question
// that does not exist. The background task only pushes the text. On failure the
// pending question stays current and the apology is pushed; an off-topic count
// already raised for mastery is kept, so the next off-topic message tries again.
func (d *Dispatcher) issueQuestion(ctx context.Context, userID string, a *models.ActiveState, kind questionKind) Outcome {
	level := a.DifficultyLevel
	question, err := d.generateQuestion(ctx, level)
	if err != nil {
		slog.Error("Dispatcher.issueQuestion: generation failed", "userID", userID, "level", level, "error", err)
		return deferred(userID, prompt.ContextNextQuestion, Step{Text: prompt.Apology, Transient: true})
	}

	a.Issue(question)
	var text string
	switch kind {
	case questionSkip:
		text = prompt.SkipQuestion(level, question)
	case questionMastery:
		text = prompt.MasteryQuestion(question)
	default:
		text = prompt.FreshQuestion(level, question)
	}
	slog.Info("Dispatcher.issueQuestion: question issued", "userID", userID, "level", level, "seq", a.QuestionSeq)
	return deferred(userID, prompt.ContextNextQuestion, Step{Text: text})
}
