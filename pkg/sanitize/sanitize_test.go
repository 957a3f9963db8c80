package sanitize

import (
	"reflect"
	"strings"
	"testing"
)

func TestSanitizeStripsMentionAndAddsImport(t *testing.T) {
	got := Sanitize(`@bot print("hi")`)
	want := "import Foundation\n\nprint(\"hi\")"
	if got != want {
		t.Errorf("Sanitize = %q, want %q", got, want)
	}
}

func TestSanitizeKeepsExistingImport(t *testing.T) {
	in := "@bot import Foundation\nprint(1)"
	got := Sanitize(in)
	if strings.Count(got, "import Foundation") != 1 {
		t.Errorf("import duplicated: %q", got)
	}
	if strings.Contains(got, "@bot") {
		t.Errorf("mention not stripped: %q", got)
	}
}

func TestSanitizeSmartQuotes(t *testing.T) {
	got := Sanitize("print(“hello”)")
	if !strings.HasSuffix(got, `print("hello")`) {
		t.Errorf("smart quotes not replaced: %q", got)
	}
}

func TestSanitizeEmpty(t *testing.T) {
	got := Sanitize("")
	if strings.TrimSpace(got) != DefaultImportMarker {
		t.Errorf("Sanitize(\"\") = %q, want just the import line", got)
	}
}

func TestSanitizeOnlyMentions(t *testing.T) {
	got := Sanitize("@a @b\r\n@c")
	if strings.TrimSpace(got) != DefaultImportMarker {
		t.Errorf("Sanitize = %q, want just the import line", got)
	}
}

func TestSanitizeUnescapesEntities(t *testing.T) {
	got := Sanitize("@bot print(1 &lt; 2 &amp;&amp; 3 &gt; 2)")
	if !strings.HasSuffix(got, "print(1 < 2 && 3 > 2)") {
		t.Errorf("entities not unescaped: %q", got)
	}
}

func TestSanitizeCustomMarker(t *testing.T) {
	o := Options{ImportMarker: "import math"}
	got := o.Sanitize("@bot print(math.pi)")
	if got != "import math\n\nprint(math.pi)" {
		t.Errorf("Sanitize = %q", got)
	}

	bare := Options{}.Sanitize("@bot print(1)")
	if bare != "print(1)" {
		t.Errorf("no-marker Sanitize = %q, want %q", bare, "print(1)")
	}
}

func TestAddressTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"@bot print(1)", []string{"@bot"}},
		{"hello @a\r\nworld @b @c", []string{"@a", "@b", "@c"}},
		{"mail me at x@y.z", nil},
		{"\t@tabbed value", []string{"@tabbed"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := AddressTokens(tt.in)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("AddressTokens(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUnescape(t *testing.T) {
	if got := Unescape("&quot;a&apos;"); got != `"a'` {
		t.Errorf("Unescape = %q", got)
	}
}

func TestStripAddressTokens(t *testing.T) {
	got := StripAddressTokens("@code_swift  #ABBY \r\n")
	if got != "#ABBY" {
		t.Errorf("StripAddressTokens = %q, want %q", got, "#ABBY")
	}
}
