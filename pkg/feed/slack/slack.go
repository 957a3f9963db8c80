package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/sanitize"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

const (
	pageLimit = 200
	maxPages  = 5
)

// Client watches one Slack channel, or one thread in it. Top-level messages
// are requests; replies are posted into the message's thread.
type Client struct {
	api       *slackapi.Client
	channelID string
	thread    string

	mu        sync.RWMutex
	botUserID string
	botID     string
	handle    string
	users     map[string]string
}

type Option func(*clientOptions)

type clientOptions struct {
	apiURL string
	thread string
}

// WithAPIURL points the client at a different Slack Web API endpoint.
func WithAPIURL(u string) Option {
	return func(o *clientOptions) { o.apiURL = u }
}

// WithThread watches the replies of one thread instead of the channel's
// top-level messages.
func WithThread(ts string) Option {
	return func(o *clientOptions) { o.thread = ts }
}

func New(token, channelID string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("slack: bot token required (set SLACK_BOT_TOKEN)")
	}
	if channelID == "" {
		return nil, fmt.Errorf("slack: channel id required")
	}

	var o clientOptions
	for _, fn := range opts {
		fn(&o)
	}

	var apiOpts []slackapi.Option
	if o.apiURL != "" {
		u := o.apiURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		apiOpts = append(apiOpts, slackapi.OptionAPIURL(u))
	}

	return &Client{
		api:       slackapi.New(token, apiOpts...),
		channelID: channelID,
		thread:    o.thread,
		users:     make(map[string]string),
	}, nil
}

func (c *Client) Name() string { return "slack" }

func (c *Client) MaxPostLength() int { return feed.DefaultMaxPostLength }

// Handle is the bot's own user name, known after Authorize.
func (c *Client) Handle() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

func (c *Client) Authorize(ctx context.Context) error {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return wrap("auth.test", err)
	}

	c.mu.Lock()
	c.botUserID = resp.UserID
	c.botID = resp.BotID
	c.handle = resp.User
	c.users[resp.UserID] = resp.User
	c.mu.Unlock()

	telemetry.FromContext(ctx).Info("slack authorized",
		slog.String("user", resp.User),
		slog.String("team", resp.Team),
	)
	return nil
}

func (c *Client) GetNewMentions(ctx context.Context, sinceID string) ([]feed.Request, error) {
	if c.thread != "" {
		return c.threadMentions(ctx, sinceID)
	}
	params := &slackapi.GetConversationHistoryParameters{
		ChannelID: c.channelID,
		Oldest:    sinceID,
		Limit:     pageLimit,
	}

	var out []feed.Request
	for page := 0; page < maxPages; page++ {
		resp, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, wrap("conversations.history", err)
		}
		for _, m := range resp.Messages {
			if m.SubType != "" || m.Text == "" {
				continue
			}
			if m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
				continue
			}
			out = append(out, c.toRequest(ctx, m.Msg))
		}
		if !resp.HasMore || resp.ResponseMetaData.NextCursor == "" || sinceID == "" {
			break
		}
		params.Cursor = resp.ResponseMetaData.NextCursor
	}

	sortNewestFirst(out)
	return out, nil
}

// threadMentions lists the watched thread's replies newer than sinceID. The
// bot's own replies and the thread parent are skipped.
func (c *Client) threadMentions(ctx context.Context, sinceID string) ([]feed.Request, error) {
	params := &slackapi.GetConversationRepliesParameters{
		ChannelID: c.channelID,
		Timestamp: c.thread,
		Oldest:    sinceID,
		Limit:     pageLimit,
	}

	c.mu.RLock()
	botUserID, botID := c.botUserID, c.botID
	c.mu.RUnlock()

	var out []feed.Request
	for page := 0; page < maxPages; page++ {
		msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, wrap("conversations.replies", err)
		}
		for _, m := range msgs {
			if m.Timestamp == c.thread || m.SubType != "" || m.Text == "" {
				continue
			}
			if sinceID != "" && feed.CompareIDs(m.Timestamp, sinceID) <= 0 {
				continue
			}
			if botID != "" && m.BotID == botID || botUserID != "" && m.User == botUserID {
				continue
			}
			out = append(out, c.toRequest(ctx, m.Msg))
		}
		if !hasMore || next == "" {
			break
		}
		params.Cursor = next
	}

	sortNewestFirst(out)
	return out, nil
}

func (c *Client) GetRepliesTo(ctx context.Context, requestID, fromHandle string) ([]feed.Request, error) {
	params := &slackapi.GetConversationRepliesParameters{
		ChannelID: c.channelID,
		Timestamp: requestID,
		Limit:     pageLimit,
	}

	var out []feed.Request
	for page := 0; page < maxPages; page++ {
		msgs, hasMore, next, err := c.api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, wrap("conversations.replies", err)
		}
		for _, m := range msgs {
			if m.Timestamp == requestID {
				continue
			}
			if !c.authoredBy(ctx, m.Msg, fromHandle) {
				continue
			}
			out = append(out, c.toRequest(ctx, m.Msg))
		}
		if !hasMore || next == "" {
			break
		}
		params.Cursor = next
	}
	return out, nil
}

func (c *Client) PostReply(ctx context.Context, text, inReplyToID string) (string, error) {
	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if inReplyToID != "" {
		opts = append(opts, slackapi.MsgOptionTS(inReplyToID))
	}
	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return "", wrap("chat.postMessage", err)
	}
	return ts, nil
}

func (c *Client) authoredBy(ctx context.Context, m slackapi.Msg, handle string) bool {
	handle = strings.TrimPrefix(handle, "@")

	c.mu.RLock()
	own := strings.EqualFold(handle, c.handle)
	botUserID, botID := c.botUserID, c.botID
	c.mu.RUnlock()

	if own && (m.User == botUserID && botUserID != "" || m.BotID == botID && botID != "") {
		return true
	}
	if m.Username != "" && strings.EqualFold(m.Username, handle) {
		return true
	}
	return m.User != "" && strings.EqualFold(c.userName(ctx, m.User), handle)
}

func (c *Client) toRequest(ctx context.Context, m slackapi.Msg) feed.Request {
	text := feed.ExpandMentions(m.Text, func(id string) string { return c.userName(ctx, id) })
	text = feed.StripCodeFences(text)

	author := m.Username
	if author == "" && m.User != "" {
		author = c.userName(ctx, m.User)
	}

	req := feed.Request{
		ID:            m.Timestamp,
		Text:          text,
		AuthorID:      m.User,
		AuthorHandle:  author,
		Timestamp:     parseTS(m.Timestamp),
		AddressTokens: sanitize.AddressTokens(text),
	}
	if m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
		req.InReplyToID = m.ThreadTimestamp
	}
	return req
}

// userName resolves and caches a user's handle; lookup failures fall back to
// the raw id.
func (c *Client) userName(ctx context.Context, id string) string {
	c.mu.RLock()
	name, ok := c.users[id]
	c.mu.RUnlock()
	if ok {
		return name
	}

	user, err := c.api.GetUserInfoContext(ctx, id)
	if err != nil {
		telemetry.FromContext(ctx).Debug("slack user lookup failed", slog.String("user", id), slog.Any("err", err))
		return id
	}

	c.mu.Lock()
	c.users[id] = user.Name
	c.mu.Unlock()
	return user.Name
}

func parseTS(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var ns int64
	if frac != "" {
		for len(frac) < 9 {
			frac += "0"
		}
		ns, _ = strconv.ParseInt(frac[:9], 10, 64)
	}
	return time.Unix(s, ns).UTC()
}

func sortNewestFirst(reqs []feed.Request) {
	slices.SortFunc(reqs, func(a, b feed.Request) int {
		return feed.CompareIDs(b.ID, a.ID)
	})
}

var authErrors = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"account_inactive": true,
	"token_revoked":    true,
	"token_expired":    true,
}

func wrap(method string, err error) error {
	var slackErr slackapi.SlackErrorResponse
	if errors.As(err, &slackErr) {
		switch {
		case authErrors[slackErr.Err]:
			return fmt.Errorf("slack: %s: %w: %s", method, feed.ErrUnauthorized, slackErr.Err)
		case slackErr.Err == "thread_not_found" || slackErr.Err == "message_not_found":
			return fmt.Errorf("slack: %s: %w", method, feed.ErrNotFound)
		}
	}
	return fmt.Errorf("slack: %s: %w", method, err)
}

var _ feed.Client = (*Client)(nil)
