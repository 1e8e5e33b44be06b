package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/core/identity"
	"github.com/quillpress/quillpress/internal/output"
)

var rateLimitCheckCmd = &cobra.Command{
	Use:   "check <scope>",
	Short: "Show the verdict a caller currently holds",
	Long: `Show whether a caller is allowed under a scope's policy.

The caller is named with --identifier, or resolved from --user-id or --ip the
same way the HTTP service resolves it. By default nothing is counted; --count
records a request exactly as the service would.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, backend, err := openConfiguredBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer backend.Close() // nolint:errcheck // best-effort cleanup

		policies, err := buildPolicies(cfg)
		if err != nil {
			return err
		}
		scope := strings.TrimSpace(args[0])
		policy, ok := policies.Get(scope)
		if !ok {
			return fmt.Errorf("unknown rate limit scope: %s", scope)
		}

		identifier := checkIdentifier(cmd)
		limiter := &engine.RateLimiter{Store: backend, Dispatch: func(fn func()) { fn() }}

		var result core.RateLimitResult
		count, _ := cmd.Flags().GetBool("count")
		if count {
			result, err = limiter.Evaluate(cmd.Context(), policy, identifier)
		} else {
			result, err = limiter.Inspect(cmd.Context(), policy, identifier)
		}
		if err != nil {
			return err
		}
		// The limiter fails open; an operator asking for state wants the failure.
		if result.FailOpen {
			return fmt.Errorf("rate limit store unavailable; state for %s was not read", identifier)
		}

		return writeOutput(cmd, "rate-limit.check."+scope+"."+identifier, func(f output.Formatter) (string, error) {
			return f.FormatResult(scope, identifier, result)
		})
	},
}

func checkIdentifier(cmd *cobra.Command) string {
	if id, _ := cmd.Flags().GetString("identifier"); strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	userID, _ := cmd.Flags().GetString("user-id")
	ip, _ := cmd.Flags().GetString("ip")

	h := http.Header{}
	if ip = strings.TrimSpace(ip); ip != "" {
		h.Set("X-Forwarded-For", ip)
	}
	return identity.Resolve(userID, h)
}

func init() {
	rateLimitCheckCmd.Flags().String("identifier", "", "Stored identifier, e.g. ip:203.0.113.9 or user:42")
	rateLimitCheckCmd.Flags().String("user-id", "", "Authenticated user id")
	rateLimitCheckCmd.Flags().String("ip", "", "Client IP address")
	rateLimitCheckCmd.Flags().Bool("count", false, "Count a request instead of only reading state")
	addOutputFlags(rateLimitCheckCmd)
}
