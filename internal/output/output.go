package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/quillpress/quillpress/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
)

// Formatter renders rate limit state, policies and decisions.
type Formatter interface {
	FormatStates(states []core.RateLimitState) (string, error)
	FormatPolicies(policies []core.RateLimitPolicy) (string, error)
	FormatResult(scope, identifier string, result core.RateLimitResult) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	default:
		return &TableFormatter{}
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatBlockedUntil(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func decisionLabel(result core.RateLimitResult) string {
	if result.Blocked {
		return "blocked"
	}
	return "allowed"
}
