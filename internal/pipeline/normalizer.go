package pipeline

import (
	"context"
	"log/slog"
	"regexp"

	"repp/internal/domain"

	"github.com/google/uuid"
)

var (
	// SlackMentionPattern matches <@U123> and <@U123|name>.
	SlackMentionPattern = regexp.MustCompile(`<@(\w+?)(?:\|[^>]*)?>`)
	// DiscordMentionPattern matches <@123> and <@!123>.
	DiscordMentionPattern = regexp.MustCompile(`<@!?(\d+)>`)
)

// UserResolver is the part of the user directory the normalizer needs.
type UserResolver interface {
	// Lookup refreshes once on a miss.
	Lookup(ctx context.Context, id string) (*domain.User, error)
	// Find never refreshes on a miss.
	Find(ctx context.Context, id string) (*domain.User, error)
}

// Normalizer turns raw platform messages into canonical Receive events.
type Normalizer struct {
	users    UserResolver
	mentions *regexp.Regexp
	logger   *slog.Logger
}

// NewNormalizer creates a normalizer. A nil pattern defaults to Slack's syntax.
func NewNormalizer(users UserResolver, pattern *regexp.Regexp, logger *slog.Logger) *Normalizer {
	if pattern == nil {
		pattern = SlackMentionPattern
	}
	return &Normalizer{users: users, mentions: pattern, logger: logger}
}

// Normalize builds the Receive event for raw. Bot classification happens here
// so nothing downstream has to consult the directory.
func (n *Normalizer) Normalize(ctx context.Context, raw domain.RawMessage) *domain.Receive {
	replyTo := n.replyTo(ctx, raw.Text)
	sender := n.sender(ctx, raw.User)

	return &domain.Receive{
		ID:        uuid.NewString(),
		Body:      raw.Text,
		Sender:    sender,
		Channel:   raw.Channel,
		Type:      raw.Type,
		Timestamp: raw.Timestamp,
		ReplyTo:   replyTo,
		IsBot:     raw.Subtype == domain.SubtypeBotMessage || sender == nil || sender.IsBot,
	}
}

// replyTo resolves mention tokens to display names; unknown ids are dropped.
func (n *Normalizer) replyTo(ctx context.Context, text string) []string {
	matches := n.mentions.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 || n.users == nil {
		return []string{}
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		u, err := n.users.Find(ctx, m[1])
		if err != nil {
			n.logger.Warn("mention lookup failed", "user_id", m[1], "err", err)
			continue
		}
		if u != nil {
			names = append(names, u.Name)
		}
	}
	return names
}

func (n *Normalizer) sender(ctx context.Context, id string) *domain.User {
	if id == "" || n.users == nil {
		return nil
	}
	u, err := n.users.Lookup(ctx, id)
	if err != nil {
		n.logger.Warn("sender lookup failed", "user_id", id, "err", err)
		return nil
	}
	return u
}
