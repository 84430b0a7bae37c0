package classifier

import (
	"testing"

	"github.com/BTreeMap/LearnRelay/internal/models"
)

func TestClassifyPendingPrecedence(t *testing.T) {
	c := New(DefaultLexicon())
	tests := []struct {
		name string
		text string
		want Intent
	}{
		{"reveal beats answer-like", "答案是 b", IntentReveal},
		{"reveal beats follow-up", "這題答案是什麼？", IntentReveal},
		{"skip", "下一題", IntentSkip},
		{"skip beats answer-like", "下一題 printf", IntentSkip},
		{"single choice letter", "B", IntentAnswer},
		{"choice phrase", "我選 c", IntentAnswer},
		{"domain keyword", "用 printf 印出來", IntentAnswer},
		{"answer keyword beats follow-up", "指標跟陣列有什麼關係", IntentAnswer},
		{"pure follow-up", "為什麼要這樣寫", IntentFollowUp},
		{"off topic", "今天天氣很好", IntentOffTopic},
		{"empty", "   ", IntentOffTopic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ClassifyPending(tt.text); got != tt.want {
				t.Errorf("ClassifyPending(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsDomainContent(t *testing.T) {
	c := Default
	if !c.IsDomainContent("#include <stdio.h>") {
		t.Error("expected include directive to be domain content")
	}
	if !c.IsDomainContent("p->next = NULL;") {
		t.Error("expected arrow operator to be domain content")
	}
	if c.IsDomainContent("how are you") {
		t.Error("plain chat should not be domain content")
	}
}

func TestModeSelection(t *testing.T) {
	lex := DefaultLexicon()
	c := New(lex)

	if m, ok := c.ModeSelection("  MODE_ACTIVE "); !ok || m != models.ModeActive {
		t.Errorf("expected active, got %q %v", m, ok)
	}
	if m, ok := c.ModeSelection("互動式"); !ok || m != models.ModeInteractive {
		t.Errorf("expected interactive, got %q %v", m, ok)
	}
	if _, ok := c.ModeSelection("a"); ok {
		t.Error("shortcuts should be disabled by default")
	}
	if _, ok := c.ModeSelection("I want mode_active"); ok {
		t.Error("only exact tokens should select a mode")
	}

	lex.ShortcutsEnabled = true
	c = New(lex)
	if m, ok := c.ModeSelection("C"); !ok || m != models.ModeConstructive {
		t.Errorf("expected constructive shortcut, got %q %v", m, ok)
	}
}

func TestIsMenuRequest(t *testing.T) {
	if !Default.IsMenuRequest("模式") || !Default.IsMenuRequest("Menu") {
		t.Error("expected menu keywords to match")
	}
	if Default.IsMenuRequest("切換模式吧") {
		t.Error("menu keyword must match exactly")
	}
}
