package domain

import "time"

// Kind tags the concrete type behind an Event.
type Kind string

const (
	KindMessage Kind = "message"
	KindTrigger Kind = "trigger"
	KindTick    Kind = "tick"
)

// Event is the canonical shape handed to the application.
type Event interface {
	Kind() Kind
	// Text is the message body, or the symbolic name for triggers and ticks.
	Text() string
	// Destination is the default channel a reply is routed to.
	Destination() string
	Bot() bool
}

// User is a platform user record. Immutable once fetched.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	IsBot bool   `json:"is_bot"`
}

// Receive is a normalized inbound platform message.
type Receive struct {
	ID        string
	Body      string
	Sender    *User // nil when the sender could not be resolved
	Channel   string
	Type      string
	Timestamp string
	ReplyTo   []string // display names of resolved mentions, in source order
	IsBot     bool
}

func (r *Receive) Kind() Kind          { return KindMessage }
func (r *Receive) Text() string        { return r.Body }
func (r *Receive) Destination() string { return r.Channel }
func (r *Receive) Bot() bool           { return r.IsBot }

// Trigger is a synthetic follow-up event requested by the application.
// Original always points at the root Receive of the chain, never at another Trigger.
type Trigger struct {
	Name     string
	Payload  any
	Original *Receive
	Depth    int
}

// NewTrigger builds the child trigger of parent. Only a *Receive or *Trigger
// parent carries a root; any other parent yields a trigger without one.
func NewTrigger(name string, payload any, parent Event) *Trigger {
	t := &Trigger{Name: name, Payload: payload, Depth: 1}
	switch p := parent.(type) {
	case *Receive:
		t.Original = p
	case *Trigger:
		t.Original = p.Original
		t.Depth = p.Depth + 1
	}
	return t
}

func (t *Trigger) Kind() Kind   { return KindTrigger }
func (t *Trigger) Text() string { return t.Name }

func (t *Trigger) Destination() string {
	if t.Original == nil {
		return ""
	}
	return t.Original.Channel
}

func (t *Trigger) Bot() bool {
	return t.Original != nil && t.Original.IsBot
}

// Tick is emitted by the ticker when a scheduled job is due.
type Tick struct {
	Job  string
	Time time.Time
}

func (t *Tick) Kind() Kind          { return KindTick }
func (t *Tick) Text() string        { return t.Job }
func (t *Tick) Destination() string { return "" }
func (t *Tick) Bot() bool           { return false }
