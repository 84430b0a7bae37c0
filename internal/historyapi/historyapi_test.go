package historyapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LearnRelay/internal/history"
	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/store"
)

func TestRoundTripOverSQLite(t *testing.T) {
	st, err := store.NewSQLiteStore(context.Background(), store.WithSQLiteDSN(filepath.Join(t.TempDir(), "history.db")))
	require.NoError(t, err)
	defer st.Close()

	tick := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	srv := httptest.NewServer(NewServer(st, WithClock(clock)).Routes())
	defer srv.Close()

	client, err := history.NewHTTPClient(history.WithBaseURL(srv.URL), history.WithRetryDelay(time.Millisecond))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Save(ctx, models.ConversationTurn{UserID: "u1", UserText: "什麼是指標？", Kind: models.TurnKindUser}))
	require.NoError(t, client.Save(ctx, models.ConversationTurn{UserID: "u1", BotText: "指標是存放位址的變數。", Kind: models.TurnKindBot}))
	require.NoError(t, client.Save(ctx, models.ConversationTurn{UserID: "u2", UserText: "other", Kind: models.TurnKindUser}))

	turns := client.Load(ctx, "u1", 10)
	require.Len(t, turns, 2)
	assert.Equal(t, "什麼是指標？", turns[0].UserText)
	assert.Equal(t, models.TurnKindUser, turns[0].Kind)
	assert.Equal(t, "指標是存放位址的變數。", turns[1].BotText)
	assert.Equal(t, models.TurnKindBot, turns[1].Kind)
}

func TestSaveMessageValidation(t *testing.T) {
	h := NewServer(store.NewInMemoryStore()).Routes()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", "{", http.StatusBadRequest},
		{"missing user", `{"message_text":"hi","message_type":"text"}`, http.StatusBadRequest},
		{"bad type", `{"user_id":"u1","message_type":"image"}`, http.StatusBadRequest},
		{"ok", `{"user_id":"u1","message_text":"hi","message_type":"text"}`, http.StatusOK},
		{"ok without type", `{"user_id":"u1","bot_response":"hi"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, history.SaveMessagePath, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetHistoryValidation(t *testing.T) {
	h := NewServer(store.NewInMemoryStore()).Routes()

	for _, target := range []string{"/get_history", "/get_history?user_id=u1&limit=abc", "/get_history?user_id=u1&limit=0"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/get_history?user_id=nobody", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	h := NewServer(store.NewInMemoryStore()).Routes()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
