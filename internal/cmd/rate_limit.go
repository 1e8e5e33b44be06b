package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillpress/quillpress/internal/core"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and manage persisted rate limit state",
}

// addQueryFlags registers the selector flags shared by list and reset.
func addQueryFlags(cmd *cobra.Command, verb string) {
	cmd.Flags().Bool("all", false, verb+" every stored entry")
	cmd.Flags().String("scope", "", verb+" entries for one scope (exact match)")
	cmd.Flags().String("identifier", "", verb+" entries for one identifier (exact match)")
	cmd.Flags().String("prefix", "", verb+" entries whose identifier starts with prefix")
}

func queryFromFlags(cmd *cobra.Command) core.RateLimitQuery {
	all, _ := cmd.Flags().GetBool("all")
	scope, _ := cmd.Flags().GetString("scope")
	identifier, _ := cmd.Flags().GetString("identifier")
	prefix, _ := cmd.Flags().GetString("prefix")

	return core.RateLimitQuery{
		All:        all,
		Scope:      strings.TrimSpace(scope),
		Identifier: strings.TrimSpace(identifier),
		Prefix:     strings.TrimSpace(prefix),
	}
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rateLimitCmd.AddCommand(rateLimitPruneCmd)
	rateLimitCmd.AddCommand(rateLimitPoliciesCmd)
	rateLimitCmd.AddCommand(rateLimitCheckCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
