package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	errwrap "github.com/quillpress/quillpress/internal/errors"
	"github.com/quillpress/quillpress/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check: load config, validate policies and reach the configured store.",
	Run: func(cmd *cobra.Command, args []string) {
		logger := observability.CLILogger
		logger.Info("Running health check...")

		if versionInfo.Version == "" {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		logger.Debug("Version check passed", zap.String("version", versionInfo.Version))

		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "config load failed"))
			return
		}
		logger.Info("✅ Configuration loaded")

		policies, err := buildPolicies(cfg)
		if err != nil {
			ExitWithCode(logger, foundry.ExitConfigInvalid, "Rate limit policies invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "policies invalid"))
			return
		}
		logger.Info("✅ Rate limit policies valid", zap.Int("scopes", len(policies.All())))

		backend, err := openBackend(cmd.Context(), cfg)
		if err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Rate limit store unreachable", errwrap.WrapDatabaseError(cmd.Context(), err, "store open failed"))
			return
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		if err := backend.Ping(cmd.Context()); err != nil {
			ExitWithCode(logger, foundry.ExitExternalServiceUnavailable, "Rate limit store unreachable", errwrap.WrapDatabaseError(cmd.Context(), err, "store ping failed"))
			return
		}
		logger.Info("✅ Rate limit store reachable", zap.String("driver", cfg.Store.Driver))

		logger.Info("")
		logger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
