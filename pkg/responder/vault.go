package responder

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/igorsilveira/codebot/pkg/feed"
	"github.com/igorsilveira/codebot/pkg/sanitize"
)

const DefaultVaultKey = "321"

const (
	markMatch   = "🟢"
	markHigher  = "⬆️"
	markLower   = "⬇️"
	markMissing = "⚫️"
)

// Vault is a guessing game: the sum of the guess's code points is compared
// digit by digit against a secret key.
type Vault struct {
	base
	key string
}

func NewVault(s Settings, key string) *Vault {
	if key == "" {
		key = DefaultVaultKey
	}
	return &Vault{base: base{s}, key: key}
}

func (v *Vault) Name() string { return "vault" }

func (v *Vault) Respond(_ context.Context, req feed.Request) (string, error) {
	return v.Score(sanitize.StripAddressTokens(req.Text)), nil
}

// Score marks each key digit: a match, the key digit is higher, lower, or the
// guess's sum has no digit at that position.
func (v *Vault) Score(guess string) string {
	sum := 0
	for _, r := range guess {
		sum += int(r)
	}
	digits := strconv.Itoa(sum)

	var b strings.Builder
	for i := 0; i < len(v.key); i++ {
		switch {
		case i >= len(digits):
			b.WriteString(markMissing)
		case v.key[i] == digits[i]:
			b.WriteString(markMatch)
		case v.key[i] > digits[i]:
			b.WriteString(markHigher)
		default:
			b.WriteString(markLower)
		}
	}
	return b.String()
}

func (v *Vault) Validate(context.Context) error {
	for _, c := range v.key {
		if c < '0' || c > '9' {
			return fmt.Errorf("responder: vault key %q is not numeric", v.key)
		}
	}
	if v.key != DefaultVaultKey {
		return nil
	}
	win := strings.Repeat(markMatch, len(v.key))
	if got := v.Score("#ABBY"); got != win {
		return fmt.Errorf("responder: vault scored the winning guess %q", got)
	}
	if got := v.Score("AAAAAA"); got == win {
		return fmt.Errorf("responder: vault accepted a losing guess")
	}
	return nil
}

var _ Module = (*Vault)(nil)
