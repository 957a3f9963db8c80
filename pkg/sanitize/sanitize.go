// Package sanitize turns the raw text of a mention into runnable source.
package sanitize

import "strings"

const DefaultImportMarker = "import Foundation"

type Options struct {
	// ImportMarker is prepended, followed by a blank line, when missing from the source.
	ImportMarker string
}

var entities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&apos;", "'",
)

var smartQuotes = strings.NewReplacer("“", `"`, "”", `"`)

// Sanitize sanitizes raw with DefaultImportMarker.
func Sanitize(raw string) string {
	return Options{ImportMarker: DefaultImportMarker}.Sanitize(raw)
}

// Sanitize strips address tokens, straightens smart quotes, ensures the import
// marker and finally unescapes the HTML entities feeds deliver. The steps are
// order-significant.
func (o Options) Sanitize(raw string) string {
	text := StripAddressTokens(raw)
	text = smartQuotes.Replace(text)

	if o.ImportMarker != "" && !strings.Contains(text, o.ImportMarker) {
		text = o.ImportMarker + "\n\n" + text
	}

	return Unescape(text)
}

// StripAddressTokens removes every address token from raw and trims the
// result.
func StripAddressTokens(raw string) string {
	text := normalizeNewlines(raw)
	for _, tok := range AddressTokens(text) {
		text = strings.ReplaceAll(text, tok, "")
	}
	return strings.TrimSpace(text)
}

// AddressTokens returns the whitespace-delimited "@" tokens of text, line by line,
// in order of appearance. Duplicates are kept.
func AddressTokens(text string) []string {
	var tokens []string
	for _, line := range strings.Split(normalizeNewlines(text), "\n") {
		for _, field := range strings.Fields(line) {
			if strings.HasPrefix(field, "@") {
				tokens = append(tokens, field)
			}
		}
	}
	return tokens
}

// Unescape replaces the five XML entities with their characters.
func Unescape(s string) string {
	return entities.Replace(s)
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
