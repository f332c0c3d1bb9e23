package domain

import "context"

// Reply is what the application returns for one event.
// An empty Body means there is nothing to send.
type Reply struct {
	Body        string
	Channel     string // overrides the event's destination
	Attachments []Attachment
	Trigger     *TriggerSpec
}

// TriggerSpec asks for follow-up trigger events, one per name.
type TriggerSpec struct {
	Names   []string `json:"names" yaml:"names"`
	Payload any      `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Attachment is rich content forwarded verbatim to the transport.
type Attachment struct {
	Fallback  string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Color     string `json:"color,omitempty" yaml:"color,omitempty"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	TitleLink string `json:"title_link,omitempty" yaml:"title_link,omitempty"`
	Text      string `json:"text,omitempty" yaml:"text,omitempty"`
	ImageURL  string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	Footer    string `json:"footer,omitempty" yaml:"footer,omitempty"`
}

// Application is the user logic behind the router. It must be safe for
// concurrent use: trigger tasks call it from several goroutines.
type Application interface {
	Call(ctx context.Context, ev Event) (Reply, error)
}

// ApplicationFunc adapts a function to Application.
type ApplicationFunc func(ctx context.Context, ev Event) (Reply, error)

func (f ApplicationFunc) Call(ctx context.Context, ev Event) (Reply, error) { return f(ctx, ev) }
