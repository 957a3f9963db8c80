package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/sanitize"
	"github.com/igorsilveira/codebot/pkg/telemetry"
)

const (
	pageLimit     = 100
	maxPages      = 5
	maxPostLength = 2000
)

// Client polls one Discord channel over the REST API. It never opens a
// gateway connection.
type Client struct {
	session   *discordgo.Session
	channelID string
	thread    string

	mu     sync.RWMutex
	botID  string
	handle string
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.session.Client = hc }
}

// WithThread limits new mentions to replies to the message with this id.
func WithThread(id string) Option {
	return func(c *Client) { c.thread = id }
}

func New(token, channelID string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("discord: bot token not set")
	}
	if channelID == "" {
		return nil, fmt.Errorf("discord: channel id required")
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}

	c := &Client{session: dg, channelID: channelID}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Name() string { return "discord" }

func (c *Client) MaxPostLength() int { return maxPostLength }

func (c *Client) Handle() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handle
}

func (c *Client) Authorize(ctx context.Context) error {
	me, err := c.session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return wrap("users/@me", err)
	}

	c.mu.Lock()
	c.botID = me.ID
	c.handle = me.Username
	c.mu.Unlock()

	telemetry.FromContext(ctx).Info("discord authorized", slog.String("user", me.Username))
	return nil
}

func (c *Client) GetNewMentions(ctx context.Context, sinceID string) ([]feed.Request, error) {
	var out []feed.Request
	after := sinceID
	for page := 0; page < maxPages; page++ {
		msgs, err := c.session.ChannelMessages(c.channelID, pageLimit, "", after, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, wrap("channel messages", err)
		}
		for _, m := range msgs {
			if c.isMention(m) {
				out = append(out, c.toRequest(m))
			}
		}
		if sinceID == "" || len(msgs) < pageLimit {
			break
		}
		after = newestMessageID(msgs)
	}

	slices.SortFunc(out, func(a, b feed.Request) int {
		return feed.CompareIDs(b.ID, a.ID)
	})
	return out, nil
}

// isMention keeps user messages and replies. With a thread set only replies
// to the thread message qualify.
func (c *Client) isMention(m *discordgo.Message) bool {
	if m.Author == nil || m.Author.Bot || m.Content == "" {
		return false
	}
	switch m.Type {
	case discordgo.MessageTypeDefault:
		return c.thread == ""
	case discordgo.MessageTypeReply:
		return c.thread == "" || m.MessageReference != nil && m.MessageReference.MessageID == c.thread
	}
	return false
}

func (c *Client) GetRepliesTo(ctx context.Context, requestID, fromHandle string) ([]feed.Request, error) {
	handle := strings.TrimPrefix(fromHandle, "@")

	c.mu.RLock()
	own := strings.EqualFold(handle, c.handle)
	botID := c.botID
	c.mu.RUnlock()

	var out []feed.Request
	after := requestID
	for page := 0; page < maxPages; page++ {
		msgs, err := c.session.ChannelMessages(c.channelID, pageLimit, "", after, "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, wrap("channel messages", err)
		}
		for _, m := range msgs {
			if m.MessageReference == nil || m.MessageReference.MessageID != requestID || m.Author == nil {
				continue
			}
			if (own && botID != "" && m.Author.ID == botID) || strings.EqualFold(m.Author.Username, handle) {
				out = append(out, c.toRequest(m))
			}
		}
		if len(msgs) < pageLimit {
			break
		}
		after = newestMessageID(msgs)
	}
	return out, nil
}

func (c *Client) PostReply(ctx context.Context, text, inReplyToID string) (string, error) {
	var (
		msg *discordgo.Message
		err error
	)
	if inReplyToID == "" {
		msg, err = c.session.ChannelMessageSend(c.channelID, text, discordgo.WithContext(ctx))
	} else {
		ref := &discordgo.MessageReference{MessageID: inReplyToID, ChannelID: c.channelID}
		msg, err = c.session.ChannelMessageSendReply(c.channelID, text, ref, discordgo.WithContext(ctx))
	}
	if err != nil {
		return "", wrap("sending message", err)
	}
	return msg.ID, nil
}

func (c *Client) toRequest(m *discordgo.Message) feed.Request {
	names := make(map[string]string, len(m.Mentions))
	for _, u := range m.Mentions {
		if u != nil {
			names[u.ID] = u.Username
		}
	}
	text := feed.ExpandMentions(m.Content, func(id string) string { return names[id] })
	text = feed.StripCodeFences(text)

	req := feed.Request{
		ID:            m.ID,
		Text:          text,
		AuthorID:      m.Author.ID,
		AuthorHandle:  m.Author.Username,
		Timestamp:     m.Timestamp,
		AddressTokens: sanitize.AddressTokens(text),
	}
	if m.MessageReference != nil {
		req.InReplyToID = m.MessageReference.MessageID
	}
	return req
}

func newestMessageID(msgs []*discordgo.Message) string {
	newest := ""
	for _, m := range msgs {
		if newest == "" || feed.CompareIDs(m.ID, newest) > 0 {
			newest = m.ID
		}
	}
	return newest
}

func wrap(op string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("discord: %s: %w", op, feed.ErrUnauthorized)
		case http.StatusNotFound:
			return fmt.Errorf("discord: %s: %w", op, feed.ErrNotFound)
		}
	}
	return fmt.Errorf("discord: %s: %w", op, err)
}

var _ feed.Client = (*Client)(nil)
