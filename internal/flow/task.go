package flow

import (
	"github.com/BTreeMap/LearnRelay/internal/genai"
	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/prompt"
)

// StepInput is what a generated step may draw on when building its request.
type StepInput struct {
	// History holds the user's recent turns when the step asked for them.
	History []models.ConversationTurn
	// Previous is the output of the step before this one in the same task.
	Previous string
}

// Step is one push of a background task. Exactly one of Text or Build is set.
type Step struct {
	// Text is pushed as is.
	Text string
	// Build produces the completion request whose output is pushed.
	Build func(StepInput) genai.Request
	// WithHistory loads the user's recent turns before Build is called.
	WithHistory bool
	// After runs with the pushed output once delivery succeeds.
	After func(output string)
	// Transient steps are pushed but not mirrored to history.
	Transient bool
}

// Generated reports whether the step needs a completion call.
func (s Step) Generated() bool {
	return s.Build != nil
}

// Task is the Phase 2 work for one inbound message. Steps run strictly in order.
type Task struct {
	UserID string
	Steps  []Step
}

// Outcome is the dispatcher's decision for one inbound message.
type Outcome struct {
	// Ack is the synchronous reply sent through the reply channel.
	Ack string
	// Context labels the situation the ack was chosen for.
	Context prompt.Context
	// Task is the background work, nil when the ack is the whole answer.
	Task *Task
	// Record mirrors the ack to the history store. Waiting fillers are not recorded.
	Record bool
}

// immediate is an outcome whose ack is the complete answer.
func immediate(text string) Outcome {
	return Outcome{Ack: text, Record: true}
}

// deferred acknowledges with the context's waiting message and runs steps in the background.
func deferred(userID string, ctx prompt.Context, steps ...Step) Outcome {
	return Outcome{
		Ack:     prompt.WaitingMessage(ctx),
		Context: ctx,
		Task:    &Task{UserID: userID, Steps: steps},
	}
}
