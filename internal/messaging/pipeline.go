package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/BTreeMap/LearnRelay/internal/flow"
	"github.com/BTreeMap/LearnRelay/internal/genai"
	"github.com/BTreeMap/LearnRelay/internal/history"
	"github.com/BTreeMap/LearnRelay/internal/models"
	"github.com/BTreeMap/LearnRelay/internal/prompt"
)

// Default history window loaded for steps that ask for it.
const DefaultHistoryLimit = 6

// PipelineOpts holds configuration options for Pipeline.
type PipelineOpts struct {
	HistoryLimit int
	Apology      string
	Clock        func() time.Time
}

// PipelineOption defines a configuration option for Pipeline.
type PipelineOption func(*PipelineOpts)

// WithHistoryLimit sets how many turns a history-backed step sees.
func WithHistoryLimit(n int) PipelineOption {
	return func(o *PipelineOpts) { o.HistoryLimit = n }
}

// WithApology overrides the text pushed when a step cannot be generated.
func WithApology(text string) PipelineOption {
	return func(o *PipelineOpts) { o.Apology = text }
}

// WithPipelineClock overrides the time source used to stamp recorded turns.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(o *PipelineOpts) { o.Clock = now }
}

// Pipeline delivers dispatcher outcomes in two phases: the acknowledgement through the
// reply channel, then the background task through pushes. Tasks for the same user run
// one after another in the order they were delivered.
type Pipeline struct {
	svc          Service
	gen          genai.Completer
	history      history.Client
	historyLimit int
	apology      string
	now          func() time.Time

	wg    conc.WaitGroup
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewPipeline creates a delivery pipeline. A nil history client disables mirroring.
func NewPipeline(svc Service, gen genai.Completer, hist history.Client, opts ...PipelineOption) *Pipeline {
	cfg := PipelineOpts{
		HistoryLimit: DefaultHistoryLimit,
		Apology:      prompt.Apology,
		Clock:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if hist == nil {
		hist = history.Noop{}
	}
	return &Pipeline{
		svc:          svc,
		gen:          gen,
		history:      hist,
		historyLimit: cfg.HistoryLimit,
		apology:      cfg.Apology,
		now:          cfg.Clock,
		tails:        make(map[string]chan struct{}),
	}
}

// Deliver sends the outcome's acknowledgement and schedules its task. The reply falls
// back to a push when the reply token is missing or rejected. Deliver returns once the
// acknowledgement has been attempted; the task runs in the background.
func (p *Pipeline) Deliver(ctx context.Context, ev models.InboundEvent, out flow.Outcome) {
	userID := ev.UserID
	if out.Ack != "" {
		p.reply(ctx, ev, out.Ack)
	}

	// Background work outlives the inbound request; Wait drains it on shutdown.
	bg := context.WithoutCancel(ctx)
	p.schedule(userID, func() {
		var hist []models.ConversationTurn
		if out.Task != nil && needsHistory(out.Task) {
			hist = p.history.Load(bg, userID, p.historyLimit)
		}
		if ev.Kind == models.EventKindMessage && ev.Text != "" {
			p.save(bg, models.ConversationTurn{UserID: userID, UserText: ev.Text, Kind: models.TurnKindUser, Timestamp: p.now()})
		}
		if out.Record && out.Ack != "" {
			p.save(bg, models.ConversationTurn{UserID: userID, BotText: out.Ack, Kind: models.TurnKindBot, Timestamp: p.now()})
		}
		if out.Task != nil {
			p.run(bg, out.Task, hist)
		}
	})
}

// Announce pushes text to a user outside any inbound exchange and records it.
func (p *Pipeline) Announce(ctx context.Context, userID, text string) error {
	if err := p.svc.Push(ctx, userID, text); err != nil {
		slog.Error("Pipeline.Announce: push failed", "userID", userID, "error", err)
		return err
	}
	p.save(ctx, models.ConversationTurn{UserID: userID, BotText: text, Kind: models.TurnKindBot, Timestamp: p.now()})
	return nil
}

// Wait blocks until every scheduled task has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) reply(ctx context.Context, ev models.InboundEvent, text string) {
	err := p.svc.Reply(ctx, ev.ReplyToken, text)
	if err == nil {
		return
	}
	slog.Warn("Pipeline.reply: reply failed, falling back to push", "userID", ev.UserID, "error", err)
	if err := p.svc.Push(ctx, ev.UserID, text); err != nil {
		slog.Error("Pipeline.reply: push fallback failed", "userID", ev.UserID, "error", err)
	}
}

// schedule runs job after the previous job for the same user has finished.
func (p *Pipeline) schedule(userID string, job func()) {
	done := make(chan struct{})
	p.mu.Lock()
	prev := p.tails[userID]
	p.tails[userID] = done
	p.mu.Unlock()

	p.wg.Go(func() {
		defer func() {
			close(done)
			p.mu.Lock()
			if p.tails[userID] == done {
				delete(p.tails, userID)
			}
			p.mu.Unlock()
		}()
		if prev != nil {
			<-prev
		}

		var pc panics.Catcher
		pc.Try(job)
		if r := pc.Recovered(); r != nil {
			slog.Error("Pipeline: task panicked", "userID", userID, "error", r.AsError())
			if err := p.svc.Push(context.Background(), userID, p.apology); err != nil {
				slog.Error("Pipeline: failed to push apology", "userID", userID, "error", err)
			}
		}
	})
}

// run executes the task's steps in order. A step that cannot be generated or delivered
// ends the task; a generation failure also pushes the apology.
func (p *Pipeline) run(ctx context.Context, task *flow.Task, hist []models.ConversationTurn) {
	previous := ""
	for i, step := range task.Steps {
		text := step.Text
		if step.Generated() {
			in := flow.StepInput{Previous: previous}
			if step.WithHistory {
				in.History = hist
			}
			out, err := p.gen.Complete(ctx, step.Build(in))
			if err != nil {
				slog.Error("Pipeline.run: generation failed", "userID", task.UserID, "step", i, "error", err)
				if pushErr := p.svc.Push(ctx, task.UserID, p.apology); pushErr != nil {
					slog.Error("Pipeline.run: failed to push apology", "userID", task.UserID, "error", pushErr)
				}
				return
			}
			text = out
		}

		if err := p.svc.Push(ctx, task.UserID, text); err != nil {
			slog.Error("Pipeline.run: push failed", "userID", task.UserID, "step", i, "error", err)
			return
		}
		if !step.Transient {
			p.save(ctx, models.ConversationTurn{UserID: task.UserID, BotText: text, Kind: models.TurnKindBot, Timestamp: p.now()})
		}
		if step.After != nil {
			step.After(text)
		}
		previous = text
	}
	slog.Debug("Pipeline.run: task complete", "userID", task.UserID, "steps", len(task.Steps))
}

func (p *Pipeline) save(ctx context.Context, turn models.ConversationTurn) {
	if err := p.history.Save(ctx, turn); err != nil {
		slog.Error("Pipeline.save: history save failed, dropping turn", "userID", turn.UserID, "kind", turn.Kind, "error", err)
	}
}

func needsHistory(task *flow.Task) bool {
	for _, s := range task.Steps {
		if s.WithHistory {
			return true
		}
	}
	return false
}
