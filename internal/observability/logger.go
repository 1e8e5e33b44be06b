package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

// Logger is the subset of structured logging used by library packages.
// Both *logging.Logger and *zap.Logger satisfy it.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Nop discards everything.
var Nop Logger = zap.NewNop()

// Or returns l, or the server logger, or Nop when neither is set.
func Or(l Logger) Logger {
	if l != nil {
		return l
	}
	if ServerLogger != nil {
		return ServerLogger
	}
	return Nop
}

var (
	// CLILogger writes human-oriented output for one-shot commands.
	CLILogger *logging.Logger

	// ServerLogger writes JSON to stderr for the long-running service.
	ServerLogger *logging.Logger
)

// EnvironmentEnv names the deployment environment stamped on server logs.
const EnvironmentEnv = "QUILLPRESS_ENVIRONMENT"

// ProfileSimple switches the server logger to CLI-style console output,
// which is easier to read when running the service locally.
const ProfileSimple = "SIMPLE"

// ServerLogOptions selects the server logger's level and profile.
type ServerLogOptions struct {
	Level     string
	Profile   string
	Namespace string
}

// InitCLILogger starts the console logger used by CLI commands.
func InitCLILogger(serviceName string, verbose bool) {
	logger, err := logging.NewCLI(serviceName)
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize CLI logger", err)
	}
	if verbose {
		logger.SetLevel(logging.DEBUG)
	}
	CLILogger = logger
}

// InitServerLogger starts the server logger. Any profile other than SIMPLE
// gets the structured JSON configuration with correlation middleware.
func InitServerLogger(serviceName string, opts ServerLogOptions) {
	var (
		logger *logging.Logger
		err    error
	)
	if strings.EqualFold(opts.Profile, ProfileSimple) {
		logger, err = logging.NewCLI(serviceName)
		if err == nil && isVerboseLevel(opts.Level) {
			logger.SetLevel(logging.DEBUG)
		}
	} else {
		logger, err = logging.New(structuredConfig(serviceName, opts))
	}
	if err != nil {
		exitWithCodeStderr(foundry.ExitConfigInvalid, "Failed to initialize server logger", err)
	}

	ServerLogger = logger
}

func structuredConfig(serviceName string, opts ServerLogOptions) *logging.LoggerConfig {
	environment := os.Getenv(EnvironmentEnv)
	if environment == "" {
		environment = "production"
	}

	static := map[string]any{}
	if opts.Namespace != "" {
		static["namespace"] = opts.Namespace
	}

	return &logging.LoggerConfig{
		Profile:      logging.ProfileStructured,
		DefaultLevel: parseLogLevel(opts.Level),
		Service:      serviceName,
		Environment:  environment,
		StaticFields: static,
		Middleware: []logging.MiddlewareConfig{
			{Name: "correlation", Enabled: true, Order: 100, Config: map[string]any{}},
		},
		Sinks: []logging.SinkConfig{
			{
				Type:    "console",
				Format:  "json",
				Console: &logging.ConsoleSinkConfig{Stream: "stderr"},
			},
		},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

func isVerboseLevel(level string) bool {
	switch parseLogLevel(level) {
	case "TRACE", "DEBUG":
		return true
	}
	return false
}

// parseLogLevel maps config spellings onto gofulmen severity names.
// Unknown values fall back to INFO.
func parseLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return "TRACE"
	case "debug":
		return "DEBUG"
	case "warn", "warning":
		return "WARN"
	case "error":
		return "ERROR"
	default:
		return "INFO"
	}
}

// exitWithCodeStderr reports a logger bootstrap failure. internal/cmd has the
// full helper, but it imports this package.
func exitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	code := int(exitCode)
	name := "UNKNOWN"
	if info, ok := foundry.GetExitCodeInfo(exitCode); ok {
		code, name = info.Code, info.Name
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %s: %v\n", msg, err)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "FATAL: %s\n", msg)
	}
	_, _ = fmt.Fprintf(os.Stderr, "Exit Code: %d (%s)\n", code, name)
	os.Exit(code)
}
