package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"repp/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen     = 2000
	discordMaxMemberPage = 1000
)

// Discord is the Discord transport. Guild members back the user directory,
// so a guild ID is required.
type Discord struct {
	guildID string
	session *discordgo.Session
	logger  *slog.Logger
	cancel  context.CancelFunc
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a Discord channel handler. The session is not opened
// until Start.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("discord: guildId is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	// Run handlers on the gateway goroutine: one event at a time.
	session.SyncEvents = true

	return &Discord{
		guildID: cfg.GuildID,
		session: session,
		logger:  cfg.Logger,
	}, nil
}

func (d *Discord) Name() string { return "discord" }

// Start connects to the gateway and blocks until ctx is done.
func (d *Discord) Start(ctx context.Context, handler domain.EventHandler) error {
	ctx, d.cancel = context.WithCancel(ctx)

	d.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		raw, ok := rawFromDiscord(m.Message, selfID, d.guildID)
		if !ok {
			return
		}
		if err := handler.HandleRaw(ctx, raw); err != nil {
			d.logger.Error("discord message handling failed", "channel", raw.Channel, "err", err)
		}
	})

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", d.session.State.User.Username, "guild", d.guildID)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return d.session.Close()
}

// Stop ends a running Start.
func (d *Discord) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

// rawFromDiscord converts a gateway message, skipping our own and other guilds'.
// Webhook posts carry the bot_message subtype.
func rawFromDiscord(m *discordgo.Message, selfID, guildID string) (domain.RawMessage, bool) {
	if m == nil || m.Author == nil {
		return domain.RawMessage{}, false
	}
	if m.Author.ID == selfID {
		return domain.RawMessage{}, false
	}
	if m.GuildID != "" && m.GuildID != guildID {
		return domain.RawMessage{}, false
	}
	raw := domain.RawMessage{
		Text:      m.Content,
		User:      m.Author.ID,
		Channel:   m.ChannelID,
		Type:      "message",
		Timestamp: m.Timestamp.Format(time.RFC3339),
	}
	if m.WebhookID != "" {
		raw.Subtype = domain.SubtypeBotMessage
	}
	return raw, true
}

// SendMessage posts a reply; attachments become embeds on the last chunk.
func (d *Discord) SendMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	chunks := splitMessage(msg.Text, discordMaxMsgLen)
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		if i == len(chunks)-1 {
			send.Embeds = discordEmbeds(msg.Attachments)
		}
		if _, err := d.session.ChannelMessageSendComplex(msg.Channel, send, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send to %s: %w", msg.Channel, err)
		}
	}
	return nil
}

// ListUsers pages through guild members. The cursor is the last member ID
// of the previous page; a short page ends the sequence.
func (d *Discord) ListUsers(ctx context.Context, cursor string, limit int) ([]domain.User, string, error) {
	if limit <= 0 || limit > discordMaxMemberPage {
		limit = discordMaxMemberPage
	}
	members, err := d.session.GuildMembers(d.guildID, cursor, limit, discordgo.WithContext(ctx))
	if err != nil {
		return nil, "", fmt.Errorf("guild members: %w", err)
	}
	return usersFromMembers(members), nextMemberCursor(members, limit), nil
}

func usersFromMembers(members []*discordgo.Member) []domain.User {
	users := make([]domain.User, 0, len(members))
	for _, m := range members {
		if m == nil || m.User == nil {
			continue
		}
		users = append(users, domain.User{ID: m.User.ID, Name: m.User.Username, IsBot: m.User.Bot})
	}
	return users
}

// nextMemberCursor pages on the raw member list, so members skipped by
// usersFromMembers still count toward a full page.
func nextMemberCursor(page []*discordgo.Member, limit int) string {
	if len(page) < limit || len(page) == 0 {
		return ""
	}
	for i := len(page) - 1; i >= 0; i-- {
		if m := page[i]; m != nil && m.User != nil {
			return m.User.ID
		}
	}
	return ""
}

func discordEmbeds(in []domain.Attachment) []*discordgo.MessageEmbed {
	if len(in) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, len(in))
	for i, a := range in {
		e := &discordgo.MessageEmbed{
			Title:       a.Title,
			URL:         a.TitleLink,
			Description: a.Text,
			Color:       embedColor(a.Color),
		}
		if e.Description == "" {
			e.Description = a.Fallback
		}
		if a.ImageURL != "" {
			e.Image = &discordgo.MessageEmbedImage{URL: a.ImageURL}
		}
		if a.Footer != "" {
			e.Footer = &discordgo.MessageEmbedFooter{Text: a.Footer}
		}
		out[i] = e
	}
	return out
}

// embedColor understands Slack's named colors and hex values.
func embedColor(c string) int {
	switch c {
	case "":
		return 0
	case "good":
		return 0x2eb886
	case "warning":
		return 0xdaa038
	case "danger":
		return 0xa30200
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(c, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(v)
}
