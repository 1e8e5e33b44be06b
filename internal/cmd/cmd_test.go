package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/quillpress/quillpress/internal/config"
	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/core/engine"
	"github.com/quillpress/quillpress/internal/core/memstore"
	"github.com/quillpress/quillpress/internal/output"
)

func TestBuildPoliciesFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.RateLimit.Policies = map[string]config.PolicyConfig{
		engine.ScopeLogin: {Limit: 3},
		"comment":         {Limit: 10, Window: time.Minute, Block: 10 * time.Minute},
	}

	policies, err := buildPolicies(cfg)
	require.NoError(t, err)
	login, ok := policies.Get(engine.ScopeLogin)
	require.True(t, ok)
	require.Equal(t, 3, login.Limit)
	comment, ok := policies.Get("comment")
	require.True(t, ok)
	require.Equal(t, 10*time.Minute, comment.Block)

	cfg.RateLimit.Policies = map[string]config.PolicyConfig{"comment": {Limit: 10}}
	_, err = buildPolicies(cfg)
	require.ErrorIs(t, err, core.ErrInvalidPolicy)
}

func TestOpenBackendDrivers(t *testing.T) {
	ctx := context.Background()

	cfg := &config.Config{Store: config.StoreConfig{Driver: "Memory"}}
	backend, err := openBackend(ctx, cfg)
	require.NoError(t, err)
	_, ok := backend.(*memstore.Store)
	require.True(t, ok)
	require.NoError(t, backend.Ping(ctx))
	require.NoError(t, backend.Close())

	_, err = openBackend(ctx, &config.Config{Store: config.StoreConfig{Driver: "etcd"}})
	require.Error(t, err)
}

func TestMarshalPoliciesYAMLRoundTripsThroughConfig(t *testing.T) {
	data, err := marshalPoliciesYAML([]core.RateLimitPolicy{
		{Scope: "login", Limit: 5, Window: time.Minute, Block: 5 * time.Minute},
	})
	require.NoError(t, err)

	var doc policiesYAML
	require.NoError(t, yaml.Unmarshal(data, &doc))
	require.Equal(t, policyYAML{Limit: 5, Window: "1m0s", Block: "5m0s"}, doc.RateLimit.Policies["login"])

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	config.SetConfigFile(path)
	t.Cleanup(func() { config.SetConfigFile("") })

	cfg, err := config.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.RateLimit.Policies["login"].Block)
}

func TestCheckIdentifier(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().String("identifier", "", "")
		cmd.Flags().String("user-id", "", "")
		cmd.Flags().String("ip", "", "")
		return cmd
	}

	cmd := newCmd()
	require.Equal(t, "ip:unknown", checkIdentifier(cmd))

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("ip", "203.0.113.9"))
	require.Equal(t, "ip:203.0.113.9", checkIdentifier(cmd))

	require.NoError(t, cmd.Flags().Set("user-id", "42"))
	require.Equal(t, "user:42", checkIdentifier(cmd))

	require.NoError(t, cmd.Flags().Set("identifier", " custom:key "))
	require.Equal(t, "custom:key", checkIdentifier(cmd))
}

func TestQueryFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	addQueryFlags(cmd, "List")
	require.Error(t, queryFromFlags(cmd).Validate())

	require.NoError(t, cmd.Flags().Set("scope", " login "))
	require.NoError(t, cmd.Flags().Set("prefix", "ip:10."))
	q := queryFromFlags(cmd)
	require.Equal(t, core.RateLimitQuery{Scope: "login", Prefix: "ip:10."}, q)
}

func TestWriteRateLimitResetResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRateLimitResetResult(output.FormatJSON, &buf, 3, 2, false))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	require.EqualValues(t, 3, payload["matched"])
	require.EqualValues(t, 2, payload["deleted"])
	require.Equal(t, false, payload["dry_run"])

	buf.Reset()
	require.NoError(t, writeRateLimitResetResult(output.FormatMarkdown, &buf, 4, 0, true))
	require.Equal(t, "Would delete 4 rate limit entr(ies)\n", buf.String())
}

func TestRateLimitCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: memory
rate_limit:
  policies:
    login:
      limit: 2
`), 0o600))
	t.Cleanup(func() { config.SetConfigFile("") })

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--config", path, "rate-limit", "check", "login", "--ip", "203.0.113.9", "--output-format", "json"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.Equal(t, "login", result["scope"])
	require.Equal(t, "ip:203.0.113.9", result["identifier"])
	require.Equal(t, true, result["allowed"])
	require.EqualValues(t, 2, result["remaining"])
}
