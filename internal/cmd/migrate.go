package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core/store"
	"github.com/quillpress/quillpress/internal/observability"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the rate limit schema",
	Long: `Create or upgrade the libsql rate limit schema. Safe to run repeatedly.

The redis and memory drivers keep no schema; migrate reports that and exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}

		driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
		if driver != "" && driver != config.DriverLibsql {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "store driver %s has no schema to migrate\n", driver)
			return err
		}

		db, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		target := cfg.Store.URL
		if strings.TrimSpace(target) == "" {
			target = cfg.Store.Path
		}

		if status, _ := cmd.Flags().GetBool("status"); status {
			return writeMigrationStatus(cmd, db)
		}

		applied, err := db.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		observability.CLILogger.Info("Rate limit schema is up to date",
			zap.String("store", target),
			zap.Int("applied", applied))
		return nil
	},
}

func writeMigrationStatus(cmd *cobra.Command, db *store.Store) error {
	statuses, err := db.Migrations(cmd.Context())
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"Version", "Name", "Applied"})
	for _, st := range statuses {
		applied := "pending"
		if st.AppliedAt != nil {
			applied = st.AppliedAt.Format(time.RFC3339)
		}
		tw.AppendRow(table.Row{st.Version, st.Name, applied})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
	return err
}

func init() {
	migrateCmd.Flags().Bool("status", false, "List migrations and when each was applied instead of migrating")
	rootCmd.AddCommand(migrateCmd)
}
