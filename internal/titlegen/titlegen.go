// Package titlegen suggests short display titles for threads from their
// opening message.
//
// The registry never calls this implicitly; it exists for callers that want
// a better label than the placeholder before a RenameThread.
package titlegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// maxTitleRunes matches the registry's rename limit for generated titles.
	maxTitleRunes = 48

	systemPrompt = "Generate a short title (at most six words) summarizing the user's message. " +
		"Reply with the title only: no quotes, no trailing punctuation, no explanation."
)

var ErrNotConfigured = errors.New("title provider not configured")

// Provider produces a one-line title suggestion for an opening message.
type Provider interface {
	Name() string
	SuggestTitle(ctx context.Context, message string) (string, error)
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "anthropic" or "openai". Empty disables title generation.
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the endpoint (OpenAI-compatible servers only).
	BaseURL string
}

// New returns the configured provider, or ErrNotConfigured when no
// provider is selected.
func New(cfg Config) (Provider, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "":
		return nil, ErrNotConfigured
	case "anthropic":
		return newAnthropicProvider(cfg), nil
	case "openai":
		return newOpenAIProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown title provider: %s", cfg.Provider)
	}
}

// sanitizeTitle reduces a model reply to a single clean line suitable as a
// thread title.
func sanitizeTitle(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.IndexAny(raw, "\r\n"); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.Trim(raw, "\"'`")
	raw = strings.Join(strings.Fields(raw), " ")
	raw = strings.TrimRight(raw, ".!,;:")
	return truncateRunes(raw, maxTitleRunes)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n >= max {
			return strings.TrimSpace(s[:i])
		}
		n++
	}
	return strings.TrimSpace(s)
}
