package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quillpress/quillpress/internal/core"
	"github.com/quillpress/quillpress/internal/output"
)

type policyYAML struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
	Block  string `yaml:"block"`
}

type policiesYAML struct {
	RateLimit struct {
		Policies map[string]policyYAML `yaml:"policies"`
	} `yaml:"rate_limit"`
}

var rateLimitPoliciesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Show the effective rate limit policies",
	Long: `Show the built-in policies merged with rate_limit.policies from config.

--yaml prints them as a config snippet that can be pasted into config.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		policies, err := buildPolicies(cfg)
		if err != nil {
			return err
		}

		if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
			data, err := marshalPoliciesYAML(policies.All())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		}

		return writeOutput(cmd, "rate-limit.policies", func(f output.Formatter) (string, error) {
			return f.FormatPolicies(policies.All())
		})
	},
}

func marshalPoliciesYAML(policies []core.RateLimitPolicy) ([]byte, error) {
	var doc policiesYAML
	doc.RateLimit.Policies = make(map[string]policyYAML, len(policies))
	for _, p := range policies {
		doc.RateLimit.Policies[p.Scope] = policyYAML{
			Limit:  p.Limit,
			Window: p.Window.String(),
			Block:  p.Block.String(),
		}
	}
	return yaml.Marshal(doc)
}

func init() {
	rateLimitPoliciesCmd.Flags().Bool("yaml", false, "Print policies as a config.yaml snippet")
	addOutputFlags(rateLimitPoliciesCmd)
}
