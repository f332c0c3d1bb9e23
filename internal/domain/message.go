package domain

// SubtypeBotMessage marks a platform message as posted by an integration.
const SubtypeBotMessage = "bot_message"

// RawMessage is an inbound platform message before normalization.
type RawMessage struct {
	Text      string
	User      string // platform user id of the sender
	Channel   string
	Type      string // platform event tag, e.g. "message"
	Subtype   string
	Timestamp string
}

// OutgoingMessage is what the reply router hands to a transport.
type OutgoingMessage struct {
	Text        string
	Channel     string
	Attachments []Attachment
}
