package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"repp/internal/bus"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestObserve_FromBus(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	m := New(Config{Events: events})

	events.Emit(bus.Event{Type: bus.EventMessageReceived, Source: "slack"})
	events.Emit(bus.Event{Type: bus.EventMessageReceived, Source: "slack"})
	events.Emit(bus.Event{Type: bus.EventMessageSent, Source: "slack"})
	events.Emit(bus.Event{Type: bus.EventSendFailed, Source: "slack"})
	events.Emit(bus.Event{Type: bus.EventDispatched, Source: "slack", Duration: 20 * time.Millisecond})
	events.Emit(bus.Event{Type: bus.EventDispatchFailed, Source: "slack"})
	events.Emit(bus.Event{Type: bus.EventTriggerSpawned, Source: "slack"})
	events.Emit(bus.Event{Type: bus.EventTriggerDropped, Source: "slack", Reason: bus.ReasonDepth})
	events.Emit(bus.Event{Type: bus.EventNoDestination, Source: "ticker"})

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"received", testutil.ToFloat64(m.MessagesReceived.WithLabelValues("slack")), 2},
		{"sent", testutil.ToFloat64(m.MessagesSent.WithLabelValues("slack")), 1},
		{"send failures", testutil.ToFloat64(m.SendFailures.WithLabelValues("slack")), 1},
		{"dispatch ok", testutil.ToFloat64(m.Dispatches.WithLabelValues("slack", "ok")), 1},
		{"dispatch error", testutil.ToFloat64(m.Dispatches.WithLabelValues("slack", "error")), 1},
		{"spawned", testutil.ToFloat64(m.TriggersSpawned.WithLabelValues("slack")), 1},
		{"dropped", testutil.ToFloat64(m.TriggersDropped.WithLabelValues("slack", bus.ReasonDepth)), 1},
		{"no destination", testutil.ToFloat64(m.NoDestination.WithLabelValues("ticker")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestRouter_Metrics(t *testing.T) {
	m := New(Config{
		DirectorySize: func() float64 { return 42 },
		InFlight:      func() float64 { return 3 },
	})
	m.MessagesSent.WithLabelValues("discord").Inc()

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"repp_directory_users 42",
		"repp_triggers_in_flight 3",
		`repp_messages_sent_total{source="discord"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestRouter_Healthz(t *testing.T) {
	m := New(Config{})
	rec := httptest.NewRecorder()
	m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
}
