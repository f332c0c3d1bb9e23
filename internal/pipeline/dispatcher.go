package pipeline

import (
	"context"
	"fmt"
	"time"

	"repp/internal/bus"
	"repp/internal/domain"
)

// Dispatcher is the boundary to the application. It adds no logic of its
// own and never swallows application errors.
type Dispatcher struct {
	app    domain.Application
	events *bus.EventBus
	source string
}

func NewDispatcher(app domain.Application, events *bus.EventBus, source string) *Dispatcher {
	return &Dispatcher{app: app, events: events, source: source}
}

// Dispatch calls the application with ev and returns its reply unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) (domain.Reply, error) {
	start := time.Now()
	reply, err := d.app.Call(ctx, ev)
	elapsed := time.Since(start)

	if err != nil {
		d.events.Emit(bus.Event{
			Type:     bus.EventDispatchFailed,
			Source:   d.source,
			Channel:  ev.Destination(),
			Name:     ev.Text(),
			Err:      err,
			Duration: elapsed,
		})
		return reply, fmt.Errorf("dispatch %s %q: %w", ev.Kind(), ev.Text(), err)
	}

	d.events.Emit(bus.Event{
		Type:     bus.EventDispatched,
		Source:   d.source,
		Channel:  ev.Destination(),
		Duration: elapsed,
	})
	return reply, nil
}
