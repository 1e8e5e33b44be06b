package output

import (
	"fmt"
	"strings"

	"github.com/quillpress/quillpress/internal/core"
)

// MarkdownFormatter renders results as a markdown table.
type MarkdownFormatter struct{}

// FormatStates renders stored counters as Markdown.
func (f *MarkdownFormatter) FormatStates(states []core.RateLimitState) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate limit state\n\n")
	sb.WriteString("| Scope | Identifier | Count | Window Ends | Blocked Until |\n")
	sb.WriteString("|-------|------------|-------|-------------|---------------|\n")

	for _, s := range states {
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %s |\n",
			escapeMarkdownCell(s.Scope),
			escapeMarkdownCell(s.Identifier),
			s.RequestCount,
			formatTime(s.WindowEndsAt),
			formatBlockedUntil(s.BlockedUntil),
		))
	}

	sb.WriteString(fmt.Sprintf("\n**Entries**: %d\n", len(states)))
	return sb.String(), nil
}

// FormatPolicies renders policies as Markdown.
func (f *MarkdownFormatter) FormatPolicies(policies []core.RateLimitPolicy) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Rate limit policies\n\n")
	sb.WriteString("| Scope | Limit | Window | Block |\n")
	sb.WriteString("|-------|-------|--------|-------|\n")

	for _, p := range policies {
		sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s |\n",
			escapeMarkdownCell(p.Scope), p.Limit, p.Window, p.Block))
	}
	return sb.String(), nil
}

// FormatResult renders a single decision as Markdown.
func (f *MarkdownFormatter) FormatResult(scope, identifier string, result core.RateLimitResult) (string, error) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s / %s\n\n", escapeMarkdownCell(scope), escapeMarkdownCell(identifier)))
	sb.WriteString(fmt.Sprintf("- **Decision**: %s\n", decisionLabel(result)))
	sb.WriteString(fmt.Sprintf("- **Count**: %d/%d\n", result.CurrentCount, result.Limit))
	sb.WriteString(fmt.Sprintf("- **Remaining**: %d\n", result.Remaining))
	sb.WriteString(fmt.Sprintf("- **Reset at**: %s\n", formatTime(result.ResetAt)))
	if result.Blocked {
		sb.WriteString(fmt.Sprintf("- **Retry after**: %ds\n", result.RetryAfterSeconds))
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	return strings.ReplaceAll(value, "|", "\\|")
}
