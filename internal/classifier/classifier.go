// Package classifier provides the named text predicates used to route learner messages.
//
// All keyword lists live in a Lexicon value so they can be replaced or localized
// without touching the routing logic.
package classifier

import (
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// Lexicon holds the keyword data behind every predicate.
type Lexicon struct {
	// DomainMarkers are substrings that identify C source or C-specific content.
	DomainMarkers []string
	// RevealKeywords signal that the learner wants the answer to the pending question.
	RevealKeywords []string
	// SkipKeywords signal that the learner wants a different question.
	SkipKeywords []string
	// AnswerChoices are exact-match multiple choice answers.
	AnswerChoices []string
	// AnswerPattern matches phrasings like "答案是 b".
	AnswerPattern *regexp.Regexp
	// AnswerKeywords are domain terms that make a message look like an attempted answer.
	AnswerKeywords []string
	// FollowUpKeywords mark conceptual why/what/how questions.
	FollowUpKeywords []string
	// ModeTokens maps lowercased selection tokens to modes.
	ModeTokens map[string]models.Mode
	// ModeShortcuts maps single-letter shortcuts to modes; consulted only when ShortcutsEnabled.
	ModeShortcuts map[string]models.Mode
	// ShortcutsEnabled turns on the single-letter mode shortcuts.
	ShortcutsEnabled bool
	// MenuKeywords request the mode menu.
	MenuKeywords []string
}

// DefaultLexicon returns the built-in Traditional Chinese / English keyword set.
func DefaultLexicon() Lexicon {
	return Lexicon{
		DomainMarkers: []string{
			"#include", "int ", "void ", "printf(", "scanf(", "return", "malloc", "free",
			"sizeof", "struct ", "typedef ", "->", "::", "main()",
		},
		RevealKeywords:   []string{"答案", "正確", "解答", "告訴我"},
		SkipKeywords:     []string{"下一題", "下一個", "再一題", "請再給一題", "再來", "下一"},
		AnswerChoices:    []string{"a", "b", "c", "d"},
		AnswerPattern:    regexp.MustCompile(`(選|答案是|應該是)\s*[a-dA-D]`),
		AnswerKeywords:   []string{"printf", "int", "指標", "陣列", "return", "變數"},
		FollowUpKeywords: []string{"為什麼", "是什麼", "代表", "差別", "怎麼", "如何", "什麼意思", "跟", "有什麼關係"},
		ModeTokens: map[string]models.Mode{
			"mode_passive":      models.ModePassive,
			"mode_active":       models.ModeActive,
			"mode_constructive": models.ModeConstructive,
			"mode_interactive":  models.ModeInteractive,
			"被動式":               models.ModePassive,
			"主動式":               models.ModeActive,
			"建構式":               models.ModeConstructive,
			"互動式":               models.ModeInteractive,
		},
		ModeShortcuts: map[string]models.Mode{
			"p": models.ModePassive,
			"a": models.ModeActive,
			"c": models.ModeConstructive,
			"i": models.ModeInteractive,
		},
		MenuKeywords: []string{"模式", "menu"},
	}
}

// Classifier evaluates the predicates of a Lexicon. The zero value is not usable; use New.
type Classifier struct {
	lex Lexicon
}

// New creates a Classifier over the given lexicon.
func New(lex Lexicon) *Classifier {
	return &Classifier{lex: lex}
}

// Default is a Classifier over DefaultLexicon.
var Default = New(DefaultLexicon())

// Lexicon returns the classifier's keyword data.
func (c *Classifier) Lexicon() Lexicon {
	return c.lex
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func containsAny(text string, keywords []string) bool {
	return lo.SomeBy(keywords, func(k string) bool {
		return k != "" && strings.Contains(text, k)
	})
}

// IsDomainContent reports whether text contains a C language marker.
func (c *Classifier) IsDomainContent(text string) bool {
	return containsAny(strings.ToLower(text), c.lex.DomainMarkers)
}

// WantsReveal reports whether the learner is asking for the answer.
func (c *Classifier) WantsReveal(text string) bool {
	return containsAny(normalize(text), c.lex.RevealKeywords)
}

// WantsSkip reports whether the learner is asking for the next question.
func (c *Classifier) WantsSkip(text string) bool {
	return containsAny(normalize(text), c.lex.SkipKeywords)
}

// IsAnswerLike reports whether text looks like an attempted answer.
func (c *Classifier) IsAnswerLike(text string) bool {
	t := normalize(text)
	if t == "" {
		return false
	}
	if lo.Contains(c.lex.AnswerChoices, t) {
		return true
	}
	if c.lex.AnswerPattern != nil && c.lex.AnswerPattern.MatchString(t) {
		return true
	}
	return containsAny(t, c.lex.AnswerKeywords)
}

// IsFollowUp reports whether text is a conceptual follow-up question.
func (c *Classifier) IsFollowUp(text string) bool {
	return containsAny(normalize(text), c.lex.FollowUpKeywords)
}

// ModeSelection returns the mode named by text when it is an exact selection token.
func (c *Classifier) ModeSelection(text string) (models.Mode, bool) {
	t := normalize(text)
	if m, ok := c.lex.ModeTokens[t]; ok {
		return m, true
	}
	if c.lex.ShortcutsEnabled {
		if m, ok := c.lex.ModeShortcuts[t]; ok {
			return m, true
		}
	}
	return "", false
}

// IsMenuRequest reports whether text asks for the mode menu.
func (c *Classifier) IsMenuRequest(text string) bool {
	return lo.Contains(c.lex.MenuKeywords, normalize(text))
}

// Intent is the Active mode classification of a message while a question is pending.
type Intent int

const (
	// IntentOffTopic matched no predicate.
	IntentOffTopic Intent = iota
	// IntentReveal asks for the answer.
	IntentReveal
	// IntentSkip asks for the next question.
	IntentSkip
	// IntentAnswer looks like an attempted answer.
	IntentAnswer
	// IntentFollowUp is a conceptual follow-up.
	IntentFollowUp
)

func (i Intent) String() string {
	switch i {
	case IntentReveal:
		return "reveal"
	case IntentSkip:
		return "skip"
	case IntentAnswer:
		return "answer"
	case IntentFollowUp:
		return "follow_up"
	default:
		return "off_topic"
	}
}

// ClassifyPending applies the predicates in fixed precedence:
// reveal, skip, answer-like, follow-up, then off-topic.
func (c *Classifier) ClassifyPending(text string) Intent {
	switch {
	case c.WantsReveal(text):
		return IntentReveal
	case c.WantsSkip(text):
		return IntentSkip
	case c.IsAnswerLike(text):
		return IntentAnswer
	case c.IsFollowUp(text):
		return IntentFollowUp
	default:
		return IntentOffTopic
	}
}
