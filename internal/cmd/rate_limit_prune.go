package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/quillpress/quillpress/internal/output"
)

var rateLimitPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete entries whose window and block have both ended",
	Long: `Delete stored entries that no longer affect any decision: the window has
rolled over and any block has expired. --older-than keeps entries that ended
within that duration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan < 0 {
			return fmt.Errorf("--older-than must not be negative")
		}
		cutoff := time.Now().UTC().Add(-olderThan)

		_, backend, err := openConfiguredBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		deleted, err := backend.PruneRateLimits(cmd.Context(), cutoff)
		if err != nil {
			return err
		}

		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format == output.FormatJSON {
			payload, err := json.MarshalIndent(map[string]any{
				"deleted": deleted,
				"cutoff":  cutoff.Format(time.RFC3339),
			}, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return err
		}

		_, err = fmt.Fprint(cmd.OutOrStdout(), ascii.DrawBox(
			fmt.Sprintf("Pruned %d rate limit entr(ies) ended before %s", deleted, cutoff.Format(time.RFC3339)), 0))
		return err
	},
}

func init() {
	rateLimitPruneCmd.Flags().Duration("older-than", 0, "Only prune entries that ended at least this long ago")
	rateLimitPruneCmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json")
}
