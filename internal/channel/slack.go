package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"repp/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"golang.org/x/time/rate"
)

const (
	slackMaxMsgLen        = 4000
	// chat.postMessage allows roughly one message per second per channel.
	slackDefaultSendRate  = 1.0
	slackDefaultSendBurst = 3
)

// Slack is the Slack transport: Socket Mode for inbound events, the Web API
// for posting replies and listing users.
type Slack struct {
	botToken   string
	appToken   string
	apiURL     string
	httpClient *http.Client
	client     *slack.Client
	socket     *socketmode.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	botUID     string // the bot's own user ID, to avoid replying to self
	cancel     context.CancelFunc
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken   string
	AppToken   string  // required for Socket Mode
	APIURL     string  // defaults to slack.APIURL
	HTTPClient *http.Client
	SendRate   float64 // messages per second, 0 = default
	SendBurst  int
	Logger     *slog.Logger
}

// NewSlack creates a Slack channel. The Web API client is usable right away,
// so the user directory can be wired before Start connects the socket.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.APIURL == "" {
		cfg.APIURL = slack.APIURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = slackDefaultSendRate
	}
	if cfg.SendBurst <= 0 {
		cfg.SendBurst = slackDefaultSendBurst
	}
	return &Slack{
		botToken:   cfg.BotToken,
		appToken:   cfg.AppToken,
		apiURL:     cfg.APIURL,
		httpClient: cfg.HTTPClient,
		client: slack.New(
			cfg.BotToken,
			slack.OptionAppLevelToken(cfg.AppToken),
			slack.OptionAPIURL(cfg.APIURL),
			slack.OptionHTTPClient(cfg.HTTPClient),
		),
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		logger:  cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and feeds message events to handler, one at
// a time, until ctx is done.
func (s *Slack) Start(ctx context.Context, handler domain.EventHandler) error {
	ctx, s.cancel = context.WithCancel(ctx)

	authResp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID, "team", authResp.Team)

	socketClient := socketmode.New(s.client)
	s.socket = socketClient

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-socketClient.Events:
				if !ok {
					return
				}
				s.handleSocketEvent(ctx, socketClient, evt, handler)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleSocketEvent(ctx context.Context, sc *socketmode.Client, evt socketmode.Event, handler domain.EventHandler) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		s.logger.Debug("slack socket connecting")
	case socketmode.EventTypeConnectionError:
		s.logger.Warn("slack socket connection error", "data", evt.Data)
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		sc.Ack(*evt.Request)
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		msg, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok {
			return
		}
		raw, ok := rawFromSlack(msg, s.botUID)
		if !ok {
			return
		}
		if err := handler.HandleRaw(ctx, raw); err != nil {
			s.logger.Error("slack message handling failed", "channel", raw.Channel, "err", err)
		}
	default:
		// Acknowledge everything else to keep Socket Mode from redelivering.
		if evt.Request != nil {
			sc.Ack(*evt.Request)
		}
	}
}

// rawFromSlack converts a message event, skipping our own posts and edits.
func rawFromSlack(ev *slackevents.MessageEvent, botUID string) (domain.RawMessage, bool) {
	if ev.User != "" && ev.User == botUID {
		return domain.RawMessage{}, false
	}
	switch ev.SubType {
	case "message_changed", "message_deleted", "message_replied":
		return domain.RawMessage{}, false
	}
	return domain.RawMessage{
		Text:      ev.Text,
		User:      ev.User,
		Channel:   ev.Channel,
		Type:      ev.Type,
		Subtype:   ev.SubType,
		Timestamp: ev.TimeStamp,
	}, true
}

// Stop closes the socket loop started by Start.
func (s *Slack) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// SendMessage posts a reply as the bot user. Long text is split; attachments
// ride on the last chunk.
func (s *Slack) SendMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	chunks := splitMessage(msg.Text, slackMaxMsgLen)
	for i, chunk := range chunks {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
		opts := []slack.MsgOption{
			slack.MsgOptionText(chunk, false),
			slack.MsgOptionAsUser(true),
		}
		if i == len(chunks)-1 && len(msg.Attachments) > 0 {
			opts = append(opts, slack.MsgOptionAttachments(slackAttachments(msg.Attachments)...))
		}
		if _, _, err := s.client.PostMessageContext(ctx, msg.Channel, opts...); err != nil {
			return fmt.Errorf("slack post to %s: %w", msg.Channel, err)
		}
	}
	return nil
}

func slackAttachments(in []domain.Attachment) []slack.Attachment {
	out := make([]slack.Attachment, len(in))
	for i, a := range in {
		out[i] = slack.Attachment{
			Fallback:  a.Fallback,
			Color:     a.Color,
			Title:     a.Title,
			TitleLink: a.TitleLink,
			Text:      a.Text,
			ImageURL:  a.ImageURL,
			Footer:    a.Footer,
		}
	}
	return out
}

type usersListResponse struct {
	slack.SlackResponse
	Members []slack.User `json:"members"`
}

// ListUsers fetches one users.list page. The returned cursor is empty on the
// last page.
func (s *Slack) ListUsers(ctx context.Context, cursor string, limit int) ([]domain.User, string, error) {
	form := url.Values{}
	if limit > 0 {
		form.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		form.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"users.list", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("users.list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retry, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, "", &slack.RateLimitedError{RetryAfter: time.Duration(retry) * time.Second}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("users.list: unexpected status %s", resp.Status)
	}

	var body usersListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, "", fmt.Errorf("users.list: decode: %w", err)
	}
	if !body.Ok {
		return nil, "", fmt.Errorf("users.list: %s", body.Error)
	}

	users := make([]domain.User, len(body.Members))
	for i, m := range body.Members {
		users[i] = domain.User{ID: m.ID, Name: m.Name, IsBot: m.IsBot}
	}
	return users, body.ResponseMetadata.Cursor, nil
}
