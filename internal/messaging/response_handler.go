package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/LearnRelay/internal/flow"
	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/prompt"
	"github.com/BTreeMap/LearnRelay/internal/store"
)

// HandlerOpts holds configuration options for ResponseHandler.
type HandlerOpts struct {
	Dedup        store.EventLog
	MenuOnFollow bool
}

// HandlerOption defines a configuration option for ResponseHandler.
type HandlerOption func(*HandlerOpts)

// WithDedup drops events whose IDs the log has already claimed.
func WithDedup(log store.EventLog) HandlerOption {
	return func(o *HandlerOpts) { o.Dedup = log }
}

// WithMenuOnFollow replies to follow events with the mode menu.
func WithMenuOnFollow(enabled bool) HandlerOption {
	return func(o *HandlerOpts) { o.MenuOnFollow = enabled }
}

// ResponseHandler routes inbound events from a Service through the dispatcher and
// pipeline. Events of one user are handled strictly in arrival order; different users
// are handled concurrently.
type ResponseHandler struct {
	svc          Service
	dispatcher   *flow.Dispatcher
	pipeline     *Pipeline
	dedup        store.EventLog
	menuOnFollow bool
	mailbox      *mailbox
}

// NewResponseHandler creates a handler for svc's events.
func NewResponseHandler(svc Service, dispatcher *flow.Dispatcher, pipeline *Pipeline, opts ...HandlerOption) *ResponseHandler {
	var cfg HandlerOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ResponseHandler{
		svc:          svc,
		dispatcher:   dispatcher,
		pipeline:     pipeline,
		dedup:        cfg.Dedup,
		menuOnFollow: cfg.MenuOnFollow,
		mailbox:      newMailbox(),
	}
}

// Start consumes the service's events until the channel closes or ctx is cancelled.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting event processing")
	go func() {
		defer slog.Info("ResponseHandler stopped event processing")
		for {
			select {
			case ev, ok := <-rh.svc.Events():
				if !ok {
					slog.Debug("ResponseHandler events channel closed")
					return
				}
				rh.Enqueue(ctx, ev)
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()
}

// Enqueue queues ev on its user's mailbox unless it is a duplicate. It reports whether
// the event was accepted.
func (rh *ResponseHandler) Enqueue(ctx context.Context, ev models.InboundEvent) bool {
	if ev.UserID == "" {
		slog.Debug("ResponseHandler.Enqueue: event without user ignored", "kind", ev.Kind)
		return false
	}
	if rh.isDuplicate(ctx, ev) {
		slog.Info("ResponseHandler.Enqueue: duplicate event dropped", "userID", ev.UserID, "eventID", ev.EventID, "redelivery", ev.Redelivery)
		return false
	}
	rh.mailbox.post(ev.UserID, func() {
		rh.ProcessEvent(ctx, ev)
		rh.markProcessed(context.WithoutCancel(ctx), ev)
	})
	return true
}

// ProcessEvent handles one event synchronously up to its acknowledgement.
func (rh *ResponseHandler) ProcessEvent(ctx context.Context, ev models.InboundEvent) {
	switch ev.Kind {
	case models.EventKindFollow:
		rh.dispatcher.Welcome(ev.UserID)
		slog.Info("ResponseHandler.ProcessEvent: new follower", "userID", ev.UserID)
		if rh.menuOnFollow {
			rh.pipeline.Deliver(ctx, ev, flow.Outcome{Ack: prompt.ModeMenu()})
		}
	case models.EventKindMessage:
		out, err := rh.dispatcher.HandleIncoming(ctx, ev.UserID, ev.Text)
		if err != nil {
			slog.Error("ResponseHandler.ProcessEvent: dispatch failed", "userID", ev.UserID, "error", err)
			out = flow.Outcome{Ack: prompt.Apology}
		}
		rh.pipeline.Deliver(ctx, ev, out)
	default:
		slog.Debug("ResponseHandler.ProcessEvent: event kind ignored", "userID", ev.UserID, "kind", ev.Kind)
	}
}

// Wait blocks until queued events and their background tasks have finished.
func (rh *ResponseHandler) Wait() {
	rh.mailbox.wait()
	rh.pipeline.Wait()
}

func (rh *ResponseHandler) isDuplicate(ctx context.Context, ev models.InboundEvent) bool {
	if rh.dedup == nil || ev.EventID == "" {
		return false
	}
	fresh, err := rh.dedup.ClaimEvent(ctx, ev.EventID, ev.UserID)
	if err != nil {
		// Fail open: the event is processed.
		slog.Error("ResponseHandler: event claim failed", "eventID", ev.EventID, "error", err)
		return false
	}
	return !fresh
}

func (rh *ResponseHandler) markProcessed(ctx context.Context, ev models.InboundEvent) {
	if rh.dedup == nil || ev.EventID == "" {
		return
	}
	if err := rh.dedup.CompleteEvent(ctx, ev.EventID); err != nil {
		slog.Error("ResponseHandler: mark processed failed", "eventID", ev.EventID, "error", err)
	}
}
