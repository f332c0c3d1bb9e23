package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"repp/internal/bus"
	"repp/internal/domain"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMaxTriggerDepth = 8
	DefaultMaxInFlight     = 256
)

// StepFunc runs one pipeline step for an event: dispatch, then route and
// send the reply. Propagation is left to the engine.
type StepFunc func(ctx context.Context, ev domain.Event) (domain.Reply, error)

// TriggerEngine fans out the follow-up triggers a reply asks for. Each name
// gets its own goroutine running the whole pipeline again; the caller never
// waits. Depth and in-flight limits drop work instead of blocking.
//
// A task holds an in-flight slot only while its step runs. The slot is
// released before the task's own triggers are spawned, so a full fan-out
// level does not starve the next one.
type TriggerEngine struct {
	step     StepFunc
	maxDepth int
	slots    *semaphore.Weighted // nil: unlimited
	events   *bus.EventBus
	logger   *slog.Logger

	group    errgroup.Group
	inFlight atomic.Int64
}

// TriggerConfig configures a TriggerEngine.
type TriggerConfig struct {
	Step        StepFunc
	MaxDepth    int // < 0 disables the limit
	MaxInFlight int // < 0 disables the limit
	Events      *bus.EventBus
	Logger      *slog.Logger
}

func NewTriggerEngine(cfg TriggerConfig) *TriggerEngine {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxTriggerDepth
	}
	if cfg.MaxInFlight == 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	e := &TriggerEngine{
		step:     cfg.Step,
		maxDepth: cfg.MaxDepth,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
	if cfg.MaxInFlight > 0 {
		e.slots = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return e
}

// Propagate spawns one trigger task per requested name, in order.
func (e *TriggerEngine) Propagate(ctx context.Context, reply domain.Reply, ev domain.Event) {
	spec := reply.Trigger
	if spec == nil || len(spec.Names) == 0 {
		return
	}

	// Trigger chains are never cancelled once started.
	taskCtx := context.WithoutCancel(ctx)

	for _, name := range spec.Names {
		trig := domain.NewTrigger(name, spec.Payload, ev)

		if e.maxDepth > 0 && trig.Depth > e.maxDepth {
			e.drop(trig, bus.ReasonDepth)
			continue
		}
		if e.slots != nil && !e.slots.TryAcquire(1) {
			e.drop(trig, bus.ReasonCapacity)
			continue
		}
		e.inFlight.Add(1)
		e.group.Go(func() error {
			e.run(taskCtx, trig)
			return nil
		})

		e.logger.Debug("trigger spawned", "trigger", trig.Name, "depth", trig.Depth, "channel", trig.Destination())
		e.events.Emit(bus.Event{
			Type:    bus.EventTriggerSpawned,
			Source:  "trigger",
			Channel: trig.Destination(),
			Name:    trig.Name,
			Depth:   trig.Depth,
		})
	}
}

// InFlight returns the number of trigger tasks currently running.
func (e *TriggerEngine) InFlight() int64 { return e.inFlight.Load() }

// Wait blocks until every spawned trigger task, including the ones they
// spawn, has finished, or ctx is done.
func (e *TriggerEngine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		_ = e.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d trigger tasks: %w", e.InFlight(), ctx.Err())
	}
}

// run executes one trigger task. The slot taken in Propagate is released
// once the step is done, before the task's own triggers are spawned.
func (e *TriggerEngine) run(ctx context.Context, trig *domain.Trigger) {
	reply, ok := e.runStep(ctx, trig)
	if !ok {
		return
	}
	e.Propagate(ctx, reply, trig)
}

func (e *TriggerEngine) runStep(ctx context.Context, trig *domain.Trigger) (reply domain.Reply, ok bool) {
	defer e.release()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("trigger task panic",
				"trigger", trig.Name,
				"depth", trig.Depth,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			e.events.Emit(bus.Event{
				Type:   bus.EventDispatchFailed,
				Source: "trigger",
				Name:   trig.Name,
				Depth:  trig.Depth,
				Err:    fmt.Errorf("panic: %v", r),
			})
			ok = false
		}
	}()

	reply, err := e.step(ctx, trig)
	if err != nil {
		e.logger.Error("trigger pipeline failed", "trigger", trig.Name, "depth", trig.Depth, "err", err)
		return domain.Reply{}, false
	}
	return reply, true
}

func (e *TriggerEngine) release() {
	e.inFlight.Add(-1)
	if e.slots != nil {
		e.slots.Release(1)
	}
}

func (e *TriggerEngine) drop(trig *domain.Trigger, reason string) {
	e.logger.Warn("trigger dropped",
		"trigger", trig.Name,
		"depth", trig.Depth,
		"reason", reason,
		"in_flight", e.InFlight(),
	)
	e.events.Emit(bus.Event{
		Type:    bus.EventTriggerDropped,
		Source:  "trigger",
		Channel: trig.Destination(),
		Name:    trig.Name,
		Depth:   trig.Depth,
		Reason:  reason,
	})
}
