package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/server/handlers"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version. --extended adds commit, build date and the Go, Gofulmen
and Crucible versions; --json prints the same document /version serves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		asJSON, _ := cmd.Flags().GetBool("json")
		extended, _ := cmd.Flags().GetBool("extended")

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(handlers.CurrentVersion())
		}

		_, _ = fmt.Fprintf(out, "%s %s\n", config.AppName, versionInfo.Version)
		if !extended {
			return nil
		}

		doc := handlers.CurrentVersion()
		_, _ = fmt.Fprintf(out, "Commit: %s\nBuilt: %s\nGo: %s (%s)\n\n",
			doc.App.Commit, doc.App.BuildDate, doc.App.GoVersion, doc.Runtime.Platform)
		_, _ = fmt.Fprintf(out, "Gofulmen: %s\nCrucible: %s\n", doc.Dependencies.Gofulmen, doc.Dependencies.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolP("extended", "e", false, "show extended version information")
	versionCmd.Flags().Bool("json", false, "print version information as JSON")
}
