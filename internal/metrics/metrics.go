// Package metrics exports pipeline activity as Prometheus metrics. It is
// fed from the event bus and served on a small chi router.
package metrics

import (
	"repp/internal/bus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SizeFunc reports a current size, e.g. the user directory length.
type SizeFunc func() float64

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec
	MessagesSent     *prometheus.CounterVec
	SendFailures     *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	TriggersSpawned  *prometheus.CounterVec
	TriggersDropped  *prometheus.CounterVec
	NoDestination    *prometheus.CounterVec
}

// Config wires the collectors. Registry defaults to a fresh registry;
// nil size functions are not exported.
type Config struct {
	Registry      *prometheus.Registry
	Events        *bus.EventBus
	DirectorySize SizeFunc
	InFlight      SizeFunc
}

func New(cfg Config) *Metrics {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repp_messages_received_total",
			Help: "Platform messages normalized into the pipeline",
		}, []string{"source"}),
		MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repp_messages_sent_total",
			Help: "Replies delivered to the platform",
		}, []string{"source"}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repp_send_failures_total",
			Help: "Replies the platform rejected",
		}, []string{"source"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repp_dispatches_total",
			Help: "Application calls by outcome",
		}, []string{"source", "outcome"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repp_dispatch_duration_seconds",
			Help:    "Application call latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"source"}),
		TriggersSpawned: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repp_triggers_spawned_total",
			Help: "Trigger tasks started",
		}, []string{"source"}),
		TriggersDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repp_triggers_dropped_total",
			Help: "Trigger tasks refused by the depth or in-flight limit",
		}, []string{"source", "reason"}),
		NoDestination: f.NewCounterVec(prometheus.CounterOpts{
			Name: "repp_replies_without_destination_total",
			Help: "Replies dropped because no channel could be determined",
		}, []string{"source"}),
	}

	if cfg.DirectorySize != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "repp_directory_users",
			Help: "Users in the current directory snapshot",
		}, cfg.DirectorySize)
	}
	if cfg.InFlight != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "repp_triggers_in_flight",
			Help: "Trigger tasks currently running",
		}, cfg.InFlight)
	}

	if cfg.Events != nil {
		cfg.Events.On("*", m.Observe)
	}
	return m
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Observe records one bus event.
func (m *Metrics) Observe(ev bus.Event) {
	switch ev.Type {
	case bus.EventMessageReceived:
		m.MessagesReceived.WithLabelValues(ev.Source).Inc()
	case bus.EventMessageSent:
		m.MessagesSent.WithLabelValues(ev.Source).Inc()
	case bus.EventSendFailed:
		m.SendFailures.WithLabelValues(ev.Source).Inc()
	case bus.EventDispatched:
		m.Dispatches.WithLabelValues(ev.Source, "ok").Inc()
		m.DispatchDuration.WithLabelValues(ev.Source).Observe(ev.Duration.Seconds())
	case bus.EventDispatchFailed:
		m.Dispatches.WithLabelValues(ev.Source, "error").Inc()
		if ev.Duration > 0 {
			m.DispatchDuration.WithLabelValues(ev.Source).Observe(ev.Duration.Seconds())
		}
	case bus.EventTriggerSpawned:
		m.TriggersSpawned.WithLabelValues(ev.Source).Inc()
	case bus.EventTriggerDropped:
		m.TriggersDropped.WithLabelValues(ev.Source, ev.Reason).Inc()
	case bus.EventNoDestination:
		m.NoDestination.WithLabelValues(ev.Source).Inc()
	}
}
