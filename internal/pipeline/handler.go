// Package pipeline routes platform events through the application:
// normalize, dispatch, send the reply, then fan out requested triggers.
package pipeline

import (
	"context"
	"log/slog"
	"regexp"

	"repp/internal/bus"
	"repp/internal/domain"
)

// Handler composes the pipeline stages for one platform.
type Handler struct {
	normalizer *Normalizer
	dispatcher *Dispatcher
	router     *Router
	triggers   *TriggerEngine
	events     *bus.EventBus
	source     string
}

// Config wires a Handler. Users may be nil for transports without a user
// directory; every raw sender is then unresolved.
type Config struct {
	Application     domain.Application
	Sender          domain.Sender
	Users           UserResolver
	MentionPattern  *regexp.Regexp
	Source          string // transport name used in logs and metrics
	MaxTriggerDepth int
	MaxInFlight     int
	Events          *bus.EventBus
	Logger          *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("source", cfg.Source)

	h := &Handler{
		normalizer: NewNormalizer(cfg.Users, cfg.MentionPattern, logger),
		dispatcher: NewDispatcher(cfg.Application, cfg.Events, cfg.Source),
		router:     NewRouter(cfg.Sender, cfg.Events, logger, cfg.Source),
		events:     cfg.Events,
		source:     cfg.Source,
	}
	h.triggers = NewTriggerEngine(TriggerConfig{
		Step:        h.step,
		MaxDepth:    cfg.MaxTriggerDepth,
		MaxInFlight: cfg.MaxInFlight,
		Events:      cfg.Events,
		Logger:      logger,
	})
	return h
}

// HandleRaw normalizes a platform message and runs it through the pipeline.
func (h *Handler) HandleRaw(ctx context.Context, raw domain.RawMessage) error {
	rec := h.normalizer.Normalize(ctx, raw)
	h.events.Emit(bus.Event{Type: bus.EventMessageReceived, Source: h.source, Channel: rec.Channel})
	return h.Process(ctx, rec)
}

// Process runs an already canonical event (a Receive, Trigger or Tick):
// dispatch, route and send, then propagate triggers. Dispatch errors are
// returned for the caller to handle; send failures are not.
func (h *Handler) Process(ctx context.Context, ev domain.Event) error {
	reply, err := h.step(ctx, ev)
	if err != nil {
		return err
	}
	h.triggers.Propagate(ctx, reply, ev)
	return nil
}

func (h *Handler) step(ctx context.Context, ev domain.Event) (domain.Reply, error) {
	reply, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		return reply, err
	}
	h.router.RouteAndSend(ctx, reply, ev)
	return reply, nil
}

// Triggers exposes the trigger engine for monitoring.
func (h *Handler) Triggers() *TriggerEngine { return h.triggers }

// Shutdown waits for in-flight trigger tasks until ctx is done.
func (h *Handler) Shutdown(ctx context.Context) error {
	return h.triggers.Wait(ctx)
}
