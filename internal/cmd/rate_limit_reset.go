package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/quillpress/quillpress/internal/output"
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate limit state",
	Long: `Delete stored counters so matching callers start fresh. This also lifts
active blocks. --all requires --yes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := queryFromFlags(cmd)
		if err := query.Validate(); err != nil {
			return err
		}

		yes, _ := cmd.Flags().GetBool("yes")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if query.All && !yes && !dryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		_, backend, err := openConfiguredBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		matching, err := backend.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}
		matched := len(matching)

		var deleted int64
		if !dryRun {
			deleted, err = backend.ResetRateLimits(cmd.Context(), query)
			if err != nil {
				return err
			}
		}

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		return writeRateLimitResetResult(format, cmd.OutOrStdout(), matched, deleted, dryRun)
	},
}

func writeRateLimitResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	line := fmt.Sprintf("Deleted %d/%d rate limit entr(ies)", deleted, matched)
	if dryRun {
		line = fmt.Sprintf("Would delete %d rate limit entr(ies)", matched)
	}
	if format == output.FormatMarkdown {
		_, err := fmt.Fprintln(w, line)
		return err
	}
	_, err := fmt.Fprint(w, ascii.DrawBox(line, 0))
	return err
}

func init() {
	addQueryFlags(rateLimitResetCmd, "Reset")
	rateLimitResetCmd.Flags().Bool("yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
	rateLimitResetCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
