package channel

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"repp/internal/domain"
)

type shellHandler struct {
	events []domain.Event
	err    error
}

func (h *shellHandler) HandleRaw(context.Context, domain.RawMessage) error {
	return errors.New("shell should not deliver raw messages")
}

func (h *shellHandler) Process(_ context.Context, ev domain.Event) error {
	h.events = append(h.events, ev)
	return h.err
}

func newTestShell(t *testing.T, input string) (*Shell, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	sh, err := NewShell(ShellConfig{
		In:     NewLineReader(strings.NewReader(input)),
		Out:    out,
		User:   "tester",
		Logger: testChannelLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sh, out
}

func TestShell_LinesBecomeReceives(t *testing.T) {
	sh, _ := newTestShell(t, "hello @bob and @carol\n\n  plain  \n")
	h := &shellHandler{}

	if err := sh.Start(context.Background(), h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(h.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(h.events))
	}

	first := h.events[0].(*domain.Receive)
	if first.Body != "hello @bob and @carol" || first.Channel != ShellChannel {
		t.Errorf("unexpected receive %+v", first)
	}
	if len(first.ReplyTo) != 1 || first.ReplyTo[0] != "bob" {
		t.Errorf("expected reply target bob, got %v", first.ReplyTo)
	}
	if first.IsBot || first.Sender == nil || first.Sender.Name != "tester" {
		t.Errorf("console input should come from the local user, got %+v", first)
	}
	if first.ID == "" {
		t.Error("expected an event id")
	}

	second := h.events[1].(*domain.Receive)
	if second.Body != "plain" || len(second.ReplyTo) != 0 || second.ReplyTo == nil {
		t.Errorf("unexpected receive %+v", second)
	}
}

func TestShell_Quit(t *testing.T) {
	sh, _ := newTestShell(t, "one\n/quit\ntwo\n")
	h := &shellHandler{}

	if err := sh.Start(context.Background(), h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(h.events) != 1 {
		t.Errorf("expected input after /quit to be ignored, got %d events", len(h.events))
	}
}

func TestShell_HandlerErrorContinues(t *testing.T) {
	sh, _ := newTestShell(t, "a\nb\n")
	h := &shellHandler{err: errors.New("boom")}

	if err := sh.Start(context.Background(), h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(h.events) != 2 {
		t.Errorf("expected both lines handled, got %d", len(h.events))
	}
}

func TestShell_CancelledContext(t *testing.T) {
	sh, _ := newTestShell(t, "a\n")
	h := &shellHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sh.Start(ctx, h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(h.events) != 0 {
		t.Errorf("expected no events after cancel, got %d", len(h.events))
	}
}

func TestShell_CancelWhileReading(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	sh, err := NewShell(ShellConfig{
		In:     NewLineReader(pr),
		Out:    &bytes.Buffer{},
		Logger: testChannelLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	h := &shellHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sh.Start(ctx, h) }()

	if _, err := io.WriteString(pw, "hello\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if len(h.events) != 1 {
		t.Errorf("expected the line read before cancel, got %d events", len(h.events))
	}
}

func TestShell_SendMessage(t *testing.T) {
	sh, out := newTestShell(t, "")
	err := sh.SendMessage(context.Background(), domain.OutgoingMessage{
		Text:    "deployed",
		Channel: ShellChannel,
		Attachments: []domain.Attachment{
			{Title: "build", Text: "green"},
			{Fallback: "see logs"},
		},
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	want := "deployed\n  [build] green\n  see logs\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}
