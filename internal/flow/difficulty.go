package flow

import (
	"strings"

	"github.com/samber/lo"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

// DifficultyPolicy decides the next difficulty level from generated answer feedback.
type DifficultyPolicy interface {
	Adjust(current int, feedback string) int
}

// KeywordPolicy raises difficulty when the feedback reads as correct and lowers it otherwise.
// Negative markers win over positive ones so "not quite right" counts as incorrect.
type KeywordPolicy struct {
	Positive []string
	Negative []string
}

// DefaultKeywordPolicy returns the built-in Chinese/English markers.
func DefaultKeywordPolicy() KeywordPolicy {
	return KeywordPolicy{
		Positive: []string{"正確", "答對", "沒錯", "correct", "right"},
		Negative: []string{"不正確", "錯誤", "不對", "incorrect", "wrong", "not quite"},
	}
}

// Correct reports whether the feedback signals a correct answer.
func (p KeywordPolicy) Correct(feedback string) bool {
	f := strings.ToLower(feedback)
	has := func(k string) bool { return strings.Contains(f, k) }
	if lo.SomeBy(p.Negative, has) {
		return false
	}
	return lo.SomeBy(p.Positive, has)
}

// Adjust moves difficulty by one step toward the feedback's verdict.
func (p KeywordPolicy) Adjust(current int, feedback string) int {
	if p.Correct(feedback) {
		return current + 1
	}
	return current - 1
}

// boundedLevel keeps a policy result within one step of current and inside [1,3].
func boundedLevel(current, next int) int {
	current = lo.Clamp(current, models.MinDifficulty, models.MaxDifficulty)
	next = lo.Clamp(next, current-1, current+1)
	return lo.Clamp(next, models.MinDifficulty, models.MaxDifficulty)
}
