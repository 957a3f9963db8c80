package feed

import (
	"regexp"
	"strings"
)

// Slack writes <@U123> or <@U123|name>, Discord <@123> or <@!123>.
var mentionPattern = regexp.MustCompile(`<@!?([A-Za-z0-9]+)(?:\|[^>]*)?>`)

// ExpandMentions rewrites platform mention markup into plain @handle tokens.
// resolve maps a user id to a handle; an empty result keeps the id.
func ExpandMentions(text string, resolve func(id string) string) string {
	return mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		id := mentionPattern.FindStringSubmatch(m)[1]
		if resolve != nil {
			if h := resolve(id); h != "" {
				return "@" + h
			}
		}
		return "@" + id
	})
}

// StripCodeFences removes markdown fences so a snippet posted as a code block
// reaches the sanitizer as plain source. A language tag after the opening
// fence is dropped along with it.
func StripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var b strings.Builder
	for {
		i := strings.Index(text, "```")
		if i < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:i])
		text = text[i+3:]
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && isFenceTag(text[:nl]) {
			text = text[nl+1:]
		}
	}
	return b.String()
}

func isFenceTag(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-') {
			return false
		}
	}
	return true
}
