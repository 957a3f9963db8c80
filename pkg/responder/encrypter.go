package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/sanitize"
)

// Encrypter replies with the mention shifted rune by rune: the rune at
// position i moves up by i+1.
type Encrypter struct {
	base
}

func NewEncrypter(s Settings) *Encrypter { return &Encrypter{base: base{s}} }

func (e *Encrypter) Name() string { return "encrypter" }

func (e *Encrypter) Respond(_ context.Context, req feed.Request) (string, error) {
	return Encrypt(sanitize.StripAddressTokens(req.Text)), nil
}

func (e *Encrypter) Validate(context.Context) error {
	const plain = "This is a test"
	enc := Encrypt(plain)
	if enc == plain {
		return fmt.Errorf("responder: encrypter left input unchanged")
	}
	if dec := Decrypt(enc); dec != plain {
		return fmt.Errorf("responder: encrypter round trip gave %q", dec)
	}
	return nil
}

func Encrypt(s string) string { return shift(s, 1) }

func Decrypt(s string) string { return shift(s, -1) }

func shift(s string, dir int) string {
	var b strings.Builder
	i := 0
	for _, r := range s {
		i++
		b.WriteRune(r + rune(dir*i))
	}
	return b.String()
}

var _ Module = (*Encrypter)(nil)
