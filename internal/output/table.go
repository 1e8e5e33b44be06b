package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/quillpress/quillpress/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatStates renders stored counters, one row per (scope, identifier).
func (f *TableFormatter) FormatStates(states []core.RateLimitState) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Scope", "Identifier", "Count", "Window Ends", "Blocked Until"})

	for _, s := range states {
		t.AppendRow(table.Row{
			s.Scope,
			s.Identifier,
			s.RequestCount,
			formatTime(s.WindowEndsAt),
			formatBlockedUntil(s.BlockedUntil),
		})
	}
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d entries", len(states)), "", ""})

	return t.Render(), nil
}

// FormatPolicies renders the effective policy per scope.
func (f *TableFormatter) FormatPolicies(policies []core.RateLimitPolicy) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Scope", "Limit", "Window", "Block"})

	for _, p := range policies {
		t.AppendRow(table.Row{p.Scope, p.Limit, p.Window.String(), p.Block.String()})
	}

	return t.Render(), nil
}

// FormatResult renders a single decision.
func (f *TableFormatter) FormatResult(scope, identifier string, result core.RateLimitResult) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Scope", "Identifier", "Decision", "Count", "Remaining", "Reset At", "Retry After"})
	t.AppendRow(table.Row{
		scope,
		identifier,
		decisionLabel(result),
		fmt.Sprintf("%d/%d", result.CurrentCount, result.Limit),
		result.Remaining,
		formatTime(result.ResetAt),
		fmt.Sprintf("%ds", result.RetryAfterSeconds),
	})

	return t.Render(), nil
}
