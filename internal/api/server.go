package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/LearnRelay/internal/flow"
	"github.com/BTreeMap/LearnRelay/internal/messaging"
	"github.com/BTreeMap/LearnRelay/internal/models"
)

// Route paths served by the relay.
const (
	CallbackPath      = "/callback"
	TwilioWebhookPath = "/twilio/webhook"
	HealthPath        = "/health"
	AdminSessionPath  = "/admin/sessions/{userID}"
)

// Server routes platform webhooks into the messaging service.
type Server struct {
	svc        messaging.Service
	dispatcher *flow.Dispatcher
	adminToken string
}

// NewServer creates a server for svc. adminToken enables the admin routes when non-empty.
func NewServer(svc messaging.Service, dispatcher *flow.Dispatcher, adminToken string) *Server {
	return &Server{svc: svc, dispatcher: dispatcher, adminToken: adminToken}
}

// Routes returns the relay's router. Webhook routes exist only for the platform in use.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get(HealthPath, s.healthHandler)

	switch svc := s.svc.(type) {
	case *messaging.LineService:
		r.Post(CallbackPath, svc.CallbackHandler)
	case *messaging.TwilioService:
		r.Post(TwilioWebhookPath, svc.TwilioWebhookHandler)
	}

	if s.adminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get(AdminSessionPath, s.sessionHandler)
		})
	} else {
		slog.Debug("Server.Routes: admin routes disabled, no token configured")
	}
	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			slog.Warn("Server.requireAdmin: unauthorized request", "path", r.URL.Path)
			models.WriteJSON(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sessionHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sess, ok := s.dispatcher.Sessions().Peek(userID)
	if !ok {
		slog.Debug("Server.sessionHandler: session not found", "userID", userID)
		models.WriteJSON(w, http.StatusNotFound, models.Error("Session not found"))
		return
	}
	models.WriteJSON(w, http.StatusOK, models.Success(sess))
}
