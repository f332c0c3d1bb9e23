package domain

import "context"

// Channel is a platform transport (Slack, Discord, shell) feeding events into a handler.
type Channel interface {
	Name() string
	Start(ctx context.Context, handler EventHandler) error
	Stop() error
}

// EventHandler is the pipeline entry point a channel delivers events to.
type EventHandler interface {
	HandleRaw(ctx context.Context, raw RawMessage) error
	Process(ctx context.Context, ev Event) error
}

// Sender delivers a reply to the platform.
type Sender interface {
	SendMessage(ctx context.Context, msg OutgoingMessage) error
}

// UserLister fetches one page of platform users. An empty next cursor ends the sequence.
type UserLister interface {
	ListUsers(ctx context.Context, cursor string, limit int) (users []User, next string, err error)
}
