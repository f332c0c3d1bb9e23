package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"repp/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeUsers is an in-memory UserResolver.
type fakeUsers struct {
	users   map[string]domain.User
	findErr error
	lookups atomic.Int32
	finds   atomic.Int32
}

func newFakeUsers(users ...domain.User) *fakeUsers {
	f := &fakeUsers{users: make(map[string]domain.User)}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUsers) Lookup(_ context.Context, id string) (*domain.User, error) {
	f.lookups.Add(1)
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (f *fakeUsers) Find(_ context.Context, id string) (*domain.User, error) {
	f.finds.Add(1)
	if f.findErr != nil {
		return nil, f.findErr
	}
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

// recordingSender captures every outgoing message.
type recordingSender struct {
	mu   sync.Mutex
	sent []domain.OutgoingMessage
	fail bool
}

func (s *recordingSender) SendMessage(_ context.Context, msg domain.OutgoingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("transport down")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) messages() []domain.OutgoingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutgoingMessage(nil), s.sent...)
}

// recordingApp records the events it sees and answers through fn.
type recordingApp struct {
	mu     sync.Mutex
	events []domain.Event
	fn     func(ev domain.Event) (domain.Reply, error)
}

func (a *recordingApp) Call(_ context.Context, ev domain.Event) (domain.Reply, error) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
	return a.fn(ev)
}

func (a *recordingApp) seen() []domain.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Event(nil), a.events...)
}

func (a *recordingApp) triggers() map[string]*domain.Trigger {
	out := make(map[string]*domain.Trigger)
	for _, ev := range a.seen() {
		if t, ok := ev.(*domain.Trigger); ok {
			out[t.Name] = t
		}
	}
	return out
}
