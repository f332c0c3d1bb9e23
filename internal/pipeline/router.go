package pipeline

import (
	"context"
	"log/slog"

	"repp/internal/bus"
	"repp/internal/domain"
)

// Router resolves where a reply goes and hands it to the transport.
type Router struct {
	sender domain.Sender
	events *bus.EventBus
	logger *slog.Logger
	source string
}

func NewRouter(sender domain.Sender, events *bus.EventBus, logger *slog.Logger, source string) *Router {
	return &Router{sender: sender, events: events, logger: logger, source: source}
}

// Destination picks reply.Channel when set, else the event's own destination
// (the root conversation for triggers).
func Destination(reply domain.Reply, ev domain.Event) string {
	if reply.Channel != "" {
		return reply.Channel
	}
	return ev.Destination()
}

// RouteAndSend sends a non-empty reply. Failures are reported, never returned:
// a failed send must not stop trigger propagation or sibling tasks.
func (r *Router) RouteAndSend(ctx context.Context, reply domain.Reply, ev domain.Event) {
	if reply.Body == "" {
		return
	}

	channel := Destination(reply, ev)
	if channel == "" {
		r.logger.Warn("reply has no destination, dropping",
			"kind", ev.Kind(),
			"event", ev.Text(),
			"hint", "set a channel on the reply",
		)
		r.events.Emit(bus.Event{Type: bus.EventNoDestination, Source: r.source, Name: ev.Text()})
		return
	}

	err := r.sender.SendMessage(ctx, domain.OutgoingMessage{
		Text:        reply.Body,
		Channel:     channel,
		Attachments: reply.Attachments,
	})
	if err != nil {
		r.logger.Error("send failed", "channel", channel, "kind", ev.Kind(), "err", err)
		r.events.Emit(bus.Event{Type: bus.EventSendFailed, Source: r.source, Channel: channel, Err: err})
		return
	}
	r.events.Emit(bus.Event{Type: bus.EventMessageSent, Source: r.source, Channel: channel})
}
