package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quillpress/quillpress/internal/output"
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit state",
	Long: `List stored rate limit counters and blocks.

Without selector flags every entry is listed. Selectors combine, so
--scope login --prefix ip:10. lists login counters for that address range.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := queryFromFlags(cmd)
		if query.Validate() != nil {
			query.All = true
		}

		_, backend, err := openConfiguredBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		entries, err := backend.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		return writeOutput(cmd, "rate-limit.list", func(f output.Formatter) (string, error) {
			return f.FormatStates(entries)
		})
	},
}

func init() {
	addQueryFlags(rateLimitListCmd, "List")
	addOutputFlags(rateLimitListCmd)
}
