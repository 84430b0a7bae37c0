package models

import "time"

// Difficulty bounds for the Active mode question loop.
const (
	MinDifficulty = 1
	MaxDifficulty = 3
)

// ActiveState is the question/answer bookkeeping used only in Active mode.
type ActiveState struct {
	LastQuestion    string `json:"last_question,omitempty"`
	AwaitingAnswer  bool   `json:"awaiting_answer"`
	Responded       bool   `json:"responded"`
	IrrelevantCount int    `json:"irrelevant_count"`
	DifficultyLevel int    `json:"difficulty_level"`
	// QuestionSeq increments each time a question is issued so that late
	// feedback can tell whether the question it graded is still pending.
	QuestionSeq int `json:"question_seq"`
}

// NewActiveState returns an Active sub-state with no pending question.
func NewActiveState() *ActiveState {
	return &ActiveState{DifficultyLevel: MinDifficulty}
}

// Pending reports whether a question is waiting for an answer.
func (a *ActiveState) Pending() bool {
	return a != nil && a.AwaitingAnswer && a.LastQuestion != ""
}

// Issue records a freshly generated question and resets per-question counters.
func (a *ActiveState) Issue(question string) {
	a.LastQuestion = question
	a.AwaitingAnswer = true
	a.Responded = false
	a.IrrelevantCount = 0
	a.QuestionSeq++
}

// Resolve clears the pending question after its answer has been revealed.
func (a *ActiveState) Resolve() {
	a.LastQuestion = ""
	a.AwaitingAnswer = false
	a.Responded = false
	a.IrrelevantCount = 0
}

// UserSession is the per-user conversation state held by the session store.
type UserSession struct {
	Mode      Mode         `json:"mode"`
	Active    *ActiveState `json:"active_state,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewUserSession returns the default session for a user seen for the first time.
func NewUserSession(now time.Time) UserSession {
	return UserSession{Mode: ModePassive, CreatedAt: now, UpdatedAt: now}
}

// Clone returns a deep copy so callers never share the ActiveState pointer.
func (s UserSession) Clone() UserSession {
	if s.Active != nil {
		a := *s.Active
		s.Active = &a
	}
	return s
}

// EnsureActive returns the Active sub-state, creating it on first use.
func (s *UserSession) EnsureActive() *ActiveState {
	if s.Active == nil {
		s.Active = NewActiveState()
	}
	return s.Active
}
