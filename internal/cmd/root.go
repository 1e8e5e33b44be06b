package cmd

import (
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/observability"
	"github.com/quillpress/quillpress/internal/server/handlers"
)

var (
	cfgFile string
	verbose bool

	// Version info set by main package
	versionInfo struct {
		Version   string
		Commit    string
		BuildDate string
	}
)

// SetVersionInfo is called by main package to set version information
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   config.AppName,
	Short: "Authentication rate limiter",
	Long: `quillpress counts authentication attempts per caller and blocks callers
that exceed a policy's limit within its window.

Use the subcommands to run the HTTP service or inspect stored state.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable global telemetry early to prevent config loading from emitting
	// metrics to stdout. Server mode will initialize proper telemetry later.
	disabledConfig := &telemetry.Config{Enabled: false}
	if sys, err := telemetry.NewSystem(disabledConfig); err == nil {
		telemetry.SetGlobalSystem(sys)
	}

	if base := filepath.Base(os.Args[0]); base != "" && base != "." {
		rootCmd.Use = base
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/"+config.AppName+"/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
}

// initConfig points the config loader at --config and starts the CLI logger.
func initConfig() {
	observability.InitCLILogger(config.AppName, verbose)
	handlers.SetAppName(config.AppName)

	config.SetConfigFile(cfgFile)
	if cfgFile != "" && verbose {
		observability.CLILogger.Debug("Using config file", zap.String("path", cfgFile))
	}
}
