// Package models defines the core data structures shared across LearnRelay modules.
package models

import (
	"strings"
	"time"
)

// Mode is one of the four conversational strategies a user can select.
type Mode string

const (
	// ModePassive answers questions concisely without asking any back.
	ModePassive Mode = "passive"
	// ModeActive drives a question/answer loop with adaptive difficulty.
	ModeActive Mode = "active"
	// ModeConstructive explains and then follows up with a Socratic question.
	ModeConstructive Mode = "constructive"
	// ModeInteractive is free, history-aware dialogue with occasional challenges.
	ModeInteractive Mode = "interactive"
)

// AllModes lists the modes in menu order.
var AllModes = []Mode{ModeInteractive, ModeConstructive, ModeActive, ModePassive}

// IsValid reports whether m is one of the known modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModePassive, ModeActive, ModeConstructive, ModeInteractive:
		return true
	}
	return false
}

// Title returns the capitalized mode name used in confirmations, e.g. "Active".
func (m Mode) Title() string {
	if m == "" {
		return ""
	}
	s := string(m)
	return strings.ToUpper(s[:1]) + s[1:]
}

// Token returns the canonical selection token for the mode, e.g. "mode_active".
func (m Mode) Token() string {
	return "mode_" + string(m)
}

// TurnKind distinguishes user-authored from bot-authored conversation turns.
type TurnKind string

const (
	// TurnKindUser marks a turn carrying the user's text.
	TurnKindUser TurnKind = "text"
	// TurnKindBot marks a turn carrying the bot's reply.
	TurnKindBot TurnKind = "bot"
)

// ConversationTurn is one append-only entry in the history store.
type ConversationTurn struct {
	UserID    string    `json:"user_id"`
	UserText  string    `json:"message_text"`
	BotText   string    `json:"bot_response"`
	Kind      TurnKind  `json:"message_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Role returns "user" or "assistant" depending on which side authored the turn,
// or "" when the turn carries no text.
func (t ConversationTurn) Role() string {
	switch {
	case strings.TrimSpace(t.UserText) != "":
		return "user"
	case strings.TrimSpace(t.BotText) != "":
		return "assistant"
	default:
		return ""
	}
}

// Content returns the text of whichever side authored the turn.
func (t ConversationTurn) Content() string {
	if strings.TrimSpace(t.UserText) != "" {
		return t.UserText
	}
	return t.BotText
}

// EventKind classifies a normalized inbound platform event.
type EventKind string

const (
	// EventKindMessage is a text message from a user.
	EventKindMessage EventKind = "message"
	// EventKindFollow is a new user adding (or unblocking) the bot.
	EventKindFollow EventKind = "follow"
	// EventKindOther covers every event the relay ignores.
	EventKindOther EventKind = "other"
)

// InboundEvent is the normalized form of a platform event consumed by the relay.
type InboundEvent struct {
	Kind       EventKind `json:"kind"`
	UserID     string    `json:"user_id"`
	Text       string    `json:"text,omitempty"`
	ReplyToken string    `json:"-"`
	EventID    string    `json:"event_id,omitempty"`
	Redelivery bool      `json:"redelivery,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
