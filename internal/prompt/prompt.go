// Package prompt composes system/user prompt pairs for every mode and Active sub-state.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/BTreeMap/LearnRelay/internal/genai"
	"github.com/BTreeMap/LearnRelay/internal/models"
)

// Context names the situation a reply is generated for. It drives the waiting message
// and labels completion requests in logs.
type Context string

const (
	ContextAnswerFeedback  Context = "answer_feedback"
	ContextExplainAnswer   Context = "explain_answer"
	ContextFollowUpConcept Context = "followup_concept"
	ContextNextQuestion    Context = "next_question"
	ContextGeneralChat     Context = "general_chat"
	ContextSocratic        Context = "socratic_followup"
	ContextDailyChallenge  Context = "daily_challenge"
)

var waitingMessages = map[Context]string{
	ContextAnswerFeedback:  "來看看你答得怎麼樣 🤔",
	ContextExplainAnswer:   "讓我查查正確答案是什麼 🧐",
	ContextFollowUpConcept: "好問題，我來解釋一下 ✍️",
	ContextNextQuestion:    "等我生一題新的出來 🎯",
	ContextGeneralChat:     "我想想怎麼說比較好 🤔",
}

// DefaultWaitingMessage is used for contexts without a dedicated filler.
const DefaultWaitingMessage = "稍等一下，我想想看 🤔"

// WaitingMessage returns the acknowledgement sent while a reply is being generated.
func WaitingMessage(ctx Context) string {
	if msg, ok := waitingMessages[ctx]; ok {
		return msg
	}
	return DefaultWaitingMessage
}

// Defaults for history folding.
const (
	DefaultHistoryTurns     = 6
	DefaultInteractiveTurns = 3
)

// Opts holds configuration options for the prompt builder.
type Opts struct {
	HistoryTurns     int
	InteractiveTurns int
}

// Option defines a configuration option for the prompt builder.
type Option func(*Opts)

// WithHistoryTurns bounds how many past turns are folded into Passive prompts.
func WithHistoryTurns(n int) Option {
	return func(o *Opts) { o.HistoryTurns = n }
}

// WithInteractiveTurns bounds how many past turns are folded into Interactive prompts.
func WithInteractiveTurns(n int) Option {
	return func(o *Opts) { o.InteractiveTurns = n }
}

// Builder composes completion requests.
type Builder struct {
	historyTurns     int
	interactiveTurns int
}

// NewBuilder creates a prompt builder.
func NewBuilder(opts ...Option) *Builder {
	cfg := Opts{HistoryTurns: DefaultHistoryTurns, InteractiveTurns: DefaultInteractiveTurns}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}
	if cfg.InteractiveTurns < 0 {
		cfg.InteractiveTurns = 0
	}
	return &Builder{historyTurns: cfg.HistoryTurns, interactiveTurns: cfg.InteractiveTurns}
}

// HistoryLimit is the largest number of turns any prompt folds in.
func (b *Builder) HistoryLimit() int {
	return max(b.historyTurns, b.interactiveTurns)
}

// FoldHistory converts stored turns into chat messages, oldest first, keeping at most
// the last limit turns that carry text. Turns whose content starts with one of exclude are dropped.
func FoldHistory(turns []models.ConversationTurn, limit int, exclude ...string) []genai.Message {
	if limit <= 0 || len(turns) == 0 {
		return nil
	}
	sorted := make([]models.ConversationTurn, len(turns))
	copy(sorted, turns)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	relevant := lo.Filter(sorted, func(t models.ConversationTurn, _ int) bool {
		if t.Role() == "" {
			return false
		}
		content := strings.TrimSpace(t.Content())
		return !lo.ContainsBy(exclude, func(prefix string) bool { return strings.HasPrefix(content, prefix) })
	})
	if len(relevant) > limit {
		relevant = relevant[len(relevant)-limit:]
	}
	return lo.Map(relevant, func(t models.ConversationTurn, _ int) genai.Message {
		return genai.Message{Role: genai.Role(t.Role()), Content: strings.TrimSpace(t.Content())}
	})
}

func withUser(history []genai.Message, text string) []genai.Message {
	out := make([]genai.Message, 0, len(history)+1)
	out = append(out, history...)
	return append(out, genai.Message{Role: genai.RoleUser, Content: text})
}

func single(system, user string, ctx Context) genai.Request {
	return genai.Request{
		System:   system,
		Messages: []genai.Message{{Role: genai.RoleUser, Content: user}},
		Purpose:  string(ctx),
	}
}

// Passive answers the learner directly with recent history for context.
func (b *Builder) Passive(history []models.ConversationTurn, text string) genai.Request {
	return genai.Request{
		System:   passiveSystem,
		Messages: withUser(FoldHistory(history, b.historyTurns), text),
		Purpose:  string(ContextGeneralChat),
	}
}

// ConstructiveExplain is the first Constructive step: respond to what the learner said.
func (b *Builder) ConstructiveExplain(text string) genai.Request {
	return single(constructiveExplainSystem, text, ContextAnswerFeedback)
}

// ConstructiveFollowUp is the second Constructive step: a Socratic question about the explanation.
func (b *Builder) ConstructiveFollowUp(text, explanation string) genai.Request {
	user := fmt.Sprintf("使用者說：「%s」\n\n你剛才的說明：「%s」\n\n請根據以上內容提出一個有深度的追問，幫助他深化想法。不要重複剛才的說明。", text, explanation)
	return single(constructiveFollowUpSystem, user, ContextSocratic)
}

// Interactive is history-aware free dialogue with proactive challenges.
func (b *Builder) Interactive(history []models.ConversationTurn, text string) genai.Request {
	return genai.Request{
		System:   interactiveSystem,
		Messages: withUser(FoldHistory(history, b.interactiveTurns, MenuTitle), text),
		Purpose:  string(ContextGeneralChat),
	}
}

// Question generates a new Active mode question at the given difficulty.
func (b *Builder) Question(level int) genai.Request {
	user := fmt.Sprintf("請產生一題 C 語言的問題，難度為 Level %d。\n請從選擇題、填空題、簡答題中擇一產生，幫助學習者思考。\n不要提供答案。", level)
	return single(questionSystem, user, ContextNextQuestion)
}

// Reveal explains the pending question and gives its answer.
func (b *Builder) Reveal(question string) genai.Request {
	user := fmt.Sprintf("請針對以下 C 語言問題給出簡單明確的解釋與答案:\n\n問題:「%s」", question)
	return single(revealSystem, user, ContextExplainAnswer)
}

// Feedback gives constructive feedback on an answer without revealing the solution.
func (b *Builder) Feedback(question, answer string) genai.Request {
	user := fmt.Sprintf("以下是你先前問的 C 語言問題:\n「%s」\n\n使用者回覆:「%s」\n\n請針對他的回答給出回饋（不給答案），可鼓勵、修正錯誤、引導思考。", question, answer)
	return single(feedbackSystem, user, ContextAnswerFeedback)
}

// FollowUp explains a related concept without answering the pending question.
func (b *Builder) FollowUp(question, text string) genai.Request {
	user := fmt.Sprintf("目前使用者正在延伸問與這題有關的概念:「%s」\n問題本身是:「%s」\n請用簡單清楚的方式回答他，不要提供原本問題的正確解答，也不要出新題。", text, question)
	return single(followUpSystem, user, ContextFollowUpConcept)
}

// ChallengeLevel is the daily challenge tier for a difficulty level.
func ChallengeLevel(difficulty int) string {
	switch {
	case difficulty >= models.MaxDifficulty:
		return "advanced"
	case difficulty == 2:
		return "intermediate"
	default:
		return "beginner"
	}
}

var challengeLevels = map[string]string{
	"beginner":     "初學者（剛接觸 C 語言，適合 if/else、變數、輸入輸出）",
	"intermediate": "中階學生（會用陣列、迴圈、函式）",
	"advanced":     "進階學生（懂指標、記憶體管理、遞迴等）",
}

// DailyChallenge asks for a short exercise for the given tier.
func (b *Builder) DailyChallenge(level string) genai.Request {
	desc, ok := challengeLevels[level]
	if !ok {
		desc = challengeLevels["beginner"]
	}
	system := fmt.Sprintf(dailyChallengeSystem, desc)
	return single(system, "請出今天的練習題。", ContextDailyChallenge)
}
