// Package api wires the relay together and serves its HTTP endpoints.
//
// It exposes the LINE and Twilio webhooks, a health check, and an optional admin view
// of learner sessions. Run builds the messaging service, completion gateway, session
// store, history client, dispatcher, delivery pipeline and daily challenge scheduler.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/lo"

	"github.com/BTreeMap/LearnRelay/internal/classifier"
	"github.com/BTreeMap/LearnRelay/internal/flow"
	"github.com/BTreeMap/LearnRelay/internal/genai"
	"github.com/BTreeMap/LearnRelay/internal/history"
	"github.com/BTreeMap/LearnRelay/internal/linebot"
	"github.com/BTreeMap/LearnRelay/internal/messaging"
	"github.com/BTreeMap/LearnRelay/internal/prompt"
	"github.com/BTreeMap/LearnRelay/internal/scheduler"
	"github.com/BTreeMap/LearnRelay/internal/session"
	"github.com/BTreeMap/LearnRelay/internal/store"
	"github.com/BTreeMap/LearnRelay/internal/twiliowhatsapp"
	"github.com/BTreeMap/LearnRelay/internal/whatsapp"
)

// Default configuration constants
const (
	DefaultAddr     = ":8080"
	shutdownTimeout = 10 * time.Second
	// Webhook event IDs are kept for a day and swept hourly.
	eventRetention = 24 * time.Hour
	eventPruneCron = "0 * * * *"
)

// Opts holds configuration options for the relay.
type Opts struct {
	Addr             string
	Platform         string
	LineSecret       string
	LineOptions      []linebot.Option
	TwilioOptions    []twiliowhatsapp.Option
	TwilioAuthToken  string
	TwilioWebhookURL string
	WhatsAppOptions  []whatsapp.Option
	HistoryURL       string
	HistoryDSN       string
	HistoryTurns     int
	DedupDSN         string
	MenuOnFollow     bool
	Shortcuts        bool
	ChallengeCron    string
	AdminToken       string
}

// Option defines a configuration option for the relay.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithLine selects LINE with the given channel secret.
func WithLine(channelSecret string, opts ...linebot.Option) Option {
	return func(o *Opts) {
		o.Platform = messaging.PlatformLine
		o.LineSecret = channelSecret
		o.LineOptions = opts
	}
}

// WithTwilio selects Twilio WhatsApp. A non-empty webhookURL turns on signature checks.
func WithTwilio(authToken, webhookURL string, opts ...twiliowhatsapp.Option) Option {
	return func(o *Opts) {
		o.Platform = messaging.PlatformTwilio
		o.TwilioAuthToken = authToken
		o.TwilioWebhookURL = webhookURL
		o.TwilioOptions = opts
	}
}

// WithWhatsApp selects a direct WhatsApp connection.
func WithWhatsApp(opts ...whatsapp.Option) Option {
	return func(o *Opts) {
		o.Platform = messaging.PlatformWhatsApp
		o.WhatsAppOptions = opts
	}
}

// WithHistoryURL uses the history store service at url.
func WithHistoryURL(url string) Option {
	return func(o *Opts) { o.HistoryURL = url }
}

// WithHistoryDSN keeps history in a local database instead of a remote service.
func WithHistoryDSN(dsn string) Option {
	return func(o *Opts) { o.HistoryDSN = dsn }
}

// WithHistoryTurns bounds how many past turns prompts may use.
func WithHistoryTurns(n int) Option {
	return func(o *Opts) { o.HistoryTurns = n }
}

// WithDedupDSN persists webhook deduplication records in a database.
func WithDedupDSN(dsn string) Option {
	return func(o *Opts) { o.DedupDSN = dsn }
}

// WithMenuOnFollow sends the mode menu to new followers.
func WithMenuOnFollow(enabled bool) Option {
	return func(o *Opts) { o.MenuOnFollow = enabled }
}

// WithShortcuts enables single-letter mode shortcuts.
func WithShortcuts(enabled bool) Option {
	return func(o *Opts) { o.Shortcuts = enabled }
}

// WithChallengeCron schedules the daily challenge.
func WithChallengeCron(expr string) Option {
	return func(o *Opts) { o.ChallengeCron = expr }
}

// WithAdminToken enables the admin routes behind a bearer token.
func WithAdminToken(token string) Option {
	return func(o *Opts) { o.AdminToken = token }
}

// Run builds the relay and serves until SIGINT or SIGTERM.
func Run(genaiOpts []genai.Option, sessionOpts []session.Option, historyOpts []history.Option, apiOpts []Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := Opts{Addr: DefaultAddr, Platform: messaging.PlatformLine}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	slog.Debug("API options applied", "addr", cfg.Addr, "platform", cfg.Platform, "historyURLSet", cfg.HistoryURL != "",
		"historyDSNSet", cfg.HistoryDSN != "", "dedupDSNSet", cfg.DedupDSN != "", "challengeCron", cfg.ChallengeCron)

	svc, err := buildService(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create messaging service: %w", err)
	}

	gen, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}

	sessions := session.NewStore(sessionOpts...)
	go sessions.Start(ctx)

	hist, closeHist, err := buildHistory(ctx, cfg, historyOpts)
	if err != nil {
		return fmt.Errorf("failed to create history client: %w", err)
	}
	defer closeHist()

	events, err := store.Open(ctx, cfg.DedupDSN)
	if err != nil {
		return fmt.Errorf("failed to open dedup store: %w", err)
	}
	defer events.Close()

	lex := classifier.DefaultLexicon()
	lex.ShortcutsEnabled = cfg.Shortcuts
	var promptOpts []prompt.Option
	if cfg.HistoryTurns > 0 {
		promptOpts = append(promptOpts, prompt.WithHistoryTurns(cfg.HistoryTurns))
	}
	dispatcher := flow.NewDispatcher(sessions, gen,
		flow.WithClassifier(classifier.New(lex)),
		flow.WithPromptBuilder(prompt.NewBuilder(promptOpts...)))

	pipeline := messaging.NewPipeline(svc, gen, hist, messaging.WithHistoryLimit(dispatcher.HistoryLimit()))
	handler := messaging.NewResponseHandler(svc, dispatcher, pipeline,
		messaging.WithDedup(events),
		messaging.WithMenuOnFollow(cfg.MenuOnFollow))

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	handler.Start(ctx)

	sched := scheduler.NewScheduler()
	if err := sched.AddJob(eventPruneCron, func() { pruneEvents(ctx, events, eventRetention) }); err != nil {
		sched.Stop()
		return fmt.Errorf("failed to schedule event pruning: %w", err)
	}
	if cfg.ChallengeCron != "" {
		if err := sched.ScheduleDailyChallenge(ctx, cfg.ChallengeCron, challengeSource{dispatcher}, pipeline); err != nil {
			sched.Stop()
			return fmt.Errorf("invalid daily challenge schedule %q: %w", cfg.ChallengeCron, err)
		}
	}

	server := NewServer(svc, dispatcher, cfg.AdminToken)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("LearnRelay API listening", "addr", cfg.Addr, "platform", cfg.Platform)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case err := <-errCh:
		runErr = err
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server forced to shutdown", "error", err)
	}
	drain(sched, handler, svc)
	slog.Info("LearnRelay stopped")
	return runErr
}

// pruneEvents drops event records received more than retention ago.
func pruneEvents(ctx context.Context, log store.EventLog, retention time.Duration) {
	n, err := log.PruneEvents(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.Error("pruneEvents: prune failed", "error", err)
		return
	}
	slog.Debug("pruneEvents: old events removed", "count", n)
}

// drain finishes queued and in-flight deliveries while the service can still send,
// then stops the service.
func drain(sched *scheduler.Scheduler, handler *messaging.ResponseHandler, svc messaging.Service) {
	sched.Stop()
	handler.Wait()
	if err := svc.Stop(); err != nil {
		slog.Error("Failed to stop messaging service", "error", err)
	}
}

// buildService creates the messaging service for the configured platform.
func buildService(ctx context.Context, cfg Opts) (messaging.Service, error) {
	switch cfg.Platform {
	case messaging.PlatformLine:
		if cfg.LineSecret == "" {
			return nil, fmt.Errorf("LINE channel secret must be provided")
		}
		client, err := linebot.NewClient(cfg.LineOptions...)
		if err != nil {
			return nil, err
		}
		return messaging.NewLineService(client, cfg.LineSecret), nil
	case messaging.PlatformTwilio:
		client, err := twiliowhatsapp.NewClient(cfg.TwilioOptions...)
		if err != nil {
			return nil, err
		}
		var opts []messaging.TwilioOption
		if cfg.TwilioWebhookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(cfg.TwilioAuthToken, cfg.TwilioWebhookURL))
		} else {
			slog.Warn("Twilio webhook signature validation disabled, no webhook URL configured")
		}
		return messaging.NewTwilioService(client, opts...), nil
	case messaging.PlatformWhatsApp:
		client, err := whatsapp.NewClient(ctx, cfg.WhatsAppOptions...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", cfg.Platform)
	}
}

// buildHistory picks the history backend: a remote service, a local database, or none.
// The returned func releases the backend.
func buildHistory(ctx context.Context, cfg Opts, opts []history.Option) (history.Client, func(), error) {
	switch {
	case cfg.HistoryURL != "":
		client, err := history.NewHTTPClient(append([]history.Option{history.WithBaseURL(cfg.HistoryURL)}, opts...)...)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using history store service", "url", cfg.HistoryURL)
		return client, func() {}, nil
	case cfg.HistoryDSN != "":
		st, err := store.Open(ctx, cfg.HistoryDSN)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using local history database", "dsn_type", store.DetectDSNType(cfg.HistoryDSN))
		return history.NewStoreBackend(st), func() { _ = st.Close() }, nil
	default:
		slog.Warn("No history backend configured, conversation history disabled")
		return history.Noop{}, func() {}, nil
	}
}

// challengeSource adapts the dispatcher to the scheduler.
type challengeSource struct {
	d *flow.Dispatcher
}

func (c challengeSource) ChallengeRecipients() []scheduler.Recipient {
	return lo.Map(c.d.ChallengeRecipients(), func(r flow.ChallengeRecipient, _ int) scheduler.Recipient {
		return scheduler.Recipient{UserID: r.UserID, Level: r.Level}
	})
}

func (c challengeSource) DailyChallenge(ctx context.Context, level string) string {
	return c.d.DailyChallenge(ctx, level)
}
