package titlegen

import (
	"errors"
	"strings"
	"testing"
)

func TestNewProviderSelection(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err=%v, want ErrNotConfigured", err)
	}

	p, err := New(Config{Provider: "anthropic", APIKey: "k"})
	if err != nil {
		t.Fatalf("New anthropic: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Fatalf("Name=%q", p.Name())
	}

	p, err = New(Config{Provider: "OpenAI", APIKey: "k"})
	if err != nil {
		t.Fatalf("New openai: %v", err)
	}
	if p.Name() != "openai" {
		t.Fatalf("Name=%q", p.Name())
	}

	if _, err := New(Config{Provider: "bard"}); err == nil {
		t.Fatalf("unknown provider accepted")
	}
}

func TestSanitizeTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Trip planning", "Trip planning"},
		{`"Trip planning"`, "Trip planning"},
		{"Trip planning.\nHere is why...", "Trip planning"},
		{"  Trip   planning  ", "Trip planning"},
		{"Trip planning!!!", "Trip planning"},
		{"", ""},
		{strings.Repeat("long ", 30), truncateRunes(strings.TrimSpace(strings.Repeat("long ", 30)), maxTitleRunes)},
	}
	for _, tc := range cases {
		if got := sanitizeTitle(tc.in); got != tc.want {
			t.Fatalf("sanitizeTitle(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}

	if got := sanitizeTitle(strings.Repeat("x", 100)); len([]rune(got)) > maxTitleRunes {
		t.Fatalf("len=%d, want <= %d", len([]rune(got)), maxTitleRunes)
	}
}
