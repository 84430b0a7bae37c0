// Package historyapi serves the history store HTTP API used by the relay.
//
// POST /save_message appends a turn; GET /get_history returns a user's newest turns
// oldest first. Turns are kept in a store.Store.
package historyapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/LearnRelay/internal/history"
	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/store"
)

// Defaults for the history API.
const (
	DefaultAddr     = ":3000"
	DefaultLimit    = 10
	MaxLimit        = 100
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for Server.
type Opts struct {
	Addr  string
	Clock func() time.Time
}

// Option defines a configuration option for Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithClock overrides the time source used to stamp saved turns.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Server exposes a store.Store over HTTP.
type Server struct {
	store store.Store
	addr  string
	now   func() time.Time
}

// NewServer creates a history API server over st.
func NewServer(st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{store: st, addr: cfg.Addr, now: cfg.Clock}
}

// Routes returns the server's router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Post(history.SaveMessagePath, s.saveMessageHandler)
	r.Get(history.GetHistoryPath, s.getHistoryHandler)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("History API listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("History API forced to shutdown", "error", err)
		return err
	}
	slog.Info("History API stopped")
	return nil
}

func (s *Server) saveMessageHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req history.SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("HistoryAPI.saveMessage: invalid body", "error", err)
		models.WriteJSON(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		models.WriteJSON(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	if req.MessageType != "" && req.MessageType != string(models.TurnKindUser) && req.MessageType != string(models.TurnKindBot) {
		models.WriteJSON(w, http.StatusBadRequest, models.Error("message_type must be text or bot"))
		return
	}

	turn := req.Turn(s.now())
	if err := s.store.SaveTurn(r.Context(), turn); err != nil {
		slog.Error("HistoryAPI.saveMessage: store failed", "userID", req.UserID, "error", err)
		models.WriteJSON(w, http.StatusInternalServerError, models.Error("Internal Server Error"))
		return
	}
	slog.Debug("HistoryAPI.saveMessage: saved", "userID", req.UserID, "kind", turn.Kind)
	models.WriteJSON(w, http.StatusOK, models.SuccessWithMessage("Message saved", nil))
}

func (s *Server) getHistoryHandler(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		models.WriteJSON(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	limit := DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			models.WriteJSON(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
			return
		}
		limit = min(n, MaxLimit)
	}

	turns, err := s.store.ListTurns(r.Context(), userID, limit)
	if err != nil {
		slog.Error("HistoryAPI.getHistory: store failed", "userID", userID, "error", err)
		models.WriteJSON(w, http.StatusInternalServerError, models.Error("Internal Server Error"))
		return
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	models.WriteJSON(w, http.StatusOK, history.HistoryResponse{Messages: turns})
}
