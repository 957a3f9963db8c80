// Package feed defines the boundary to the social feed the bot watches:
// fetching mentions, looking up replies and posting answers.
package feed

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrUnauthorized = errors.New("feed: not authorized")
	ErrNotFound     = errors.New("feed: not found")
)

// Request is one inbound feed item. It is never modified after it is fetched.
type Request struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	AuthorID      string    `json:"author_id"`
	AuthorHandle  string    `json:"author_handle"`
	Timestamp     time.Time `json:"timestamp"`
	AddressTokens []string  `json:"address_tokens,omitempty"`
	InReplyToID   string    `json:"in_reply_to_id,omitempty"`
}

type Client interface {
	Name() string

	// Authorize establishes the session and learns the bot's own identity.
	Authorize(ctx context.Context) error

	// GetNewMentions returns items newer than sinceID, newest first. An empty
	// sinceID fetches the most recent page.
	GetNewMentions(ctx context.Context, sinceID string) ([]Request, error)

	// GetRepliesTo returns replies to requestID authored by fromHandle.
	GetRepliesTo(ctx context.Context, requestID, fromHandle string) ([]Request, error)

	PostReply(ctx context.Context, text, inReplyToID string) (string, error)

	MaxPostLength() int
}

// DefaultMaxPostLength is the reply limit when a client does not set one.
const DefaultMaxPostLength = 280

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// CompareIDs orders feed ids. Decimal ids of any length (snowflakes, Slack
// timestamps) compare numerically; anything else compares lexically.
func CompareIDs(a, b string) int {
	an, aok := splitDecimal(a)
	bn, bok := splitDecimal(b)
	if !aok || !bok {
		return strings.Compare(a, b)
	}
	if c := compareDigits(an[0], bn[0]); c != 0 {
		return c
	}
	return compareFraction(an[1], bn[1])
}

func splitDecimal(s string) ([2]string, bool) {
	if s == "" {
		return [2]string{}, false
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || !allDigits(whole) || !allDigits(frac) {
		return [2]string{}, false
	}
	whole = strings.TrimLeft(whole, "0")
	return [2]string{whole, frac}, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func compareDigits(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func compareFraction(a, b string) int {
	a = strings.TrimRight(a, "0")
	b = strings.TrimRight(b, "0")
	return strings.Compare(a, b)
}

// NewestID returns the greatest id in reqs, or "" for an empty batch.
func NewestID(reqs []Request) string {
	newest := ""
	for _, r := range reqs {
		if newest == "" || CompareIDs(r.ID, newest) > 0 {
			newest = r.ID
		}
	}
	return newest
}
