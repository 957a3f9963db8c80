package feed

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"🟢🟢🟢", 2, "🟢🟢"},
		{"anything", 0, "anything"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestCompareIDs(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1", "1", 0},
		{"9", "10", -1},
		{"1203814934510858240", "999999999999999999", 1},
		{"1712345678.000200", "1712345678.0001", 1},
		{"1712345678.5", "1712345678.10", 1},
		{"1712345678.100", "1712345678.1", 0},
		{"007", "7", 0},
		{"abc", "abd", -1},
		{"abc", "10", 1},
		{"", "1", -1},
	}
	for _, tt := range tests {
		if got := CompareIDs(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareIDs(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNewestID(t *testing.T) {
	if got := NewestID(nil); got != "" {
		t.Errorf("NewestID(nil) = %q, want empty", got)
	}
	reqs := []Request{{ID: "98"}, {ID: "102"}, {ID: "99"}}
	if got := NewestID(reqs); got != "102" {
		t.Errorf("NewestID = %q, want 102", got)
	}
}

func TestExpandMentions(t *testing.T) {
	names := map[string]string{"UBOT": "code_swift", "42": "runner"}
	resolve := func(id string) string { return names[id] }

	tests := []struct {
		in, want string
	}{
		{"<@UBOT> print(1)", "@code_swift print(1)"},
		{"<@UBOT|code_swift> hi", "@code_swift hi"},
		{"<@!42> go", "@runner go"},
		{"<@U999> who", "@U999 who"},
		{"no mentions", "no mentions"},
	}
	for _, tt := range tests {
		if got := ExpandMentions(tt.in, resolve); got != tt.want {
			t.Errorf("ExpandMentions(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"@bot ```print(1)```", "@bot print(1)"},
		{"@bot\n```swift\nprint(1)\n```", "@bot\nprint(1)\n"},
		{"```\nlet x = 1\n```", "let x = 1\n"},
		{"```print(\"a b\")\n```", "print(\"a b\")\n"},
	}
	for _, tt := range tests {
		if got := StripCodeFences(tt.in); got != tt.want {
			t.Errorf("StripCodeFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
