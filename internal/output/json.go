package output

import (
	"encoding/json"

	"github.com/quillpress/quillpress/internal/core"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

// policyJSON mirrors the HTTP policy listing so scripts can share parsers.
type policyJSON struct {
	Scope         string `json:"scope"`
	Limit         int    `json:"limit"`
	WindowSeconds int    `json:"window_seconds"`
	BlockSeconds  int    `json:"block_seconds"`
}

type resultJSON struct {
	Scope      string `json:"scope"`
	Identifier string `json:"identifier"`
	core.RateLimitResult
}

// FormatStates renders stored counters as a JSON array.
func (f *JSONFormatter) FormatStates(states []core.RateLimitState) (string, error) {
	if states == nil {
		states = []core.RateLimitState{}
	}
	return f.marshal(states)
}

// FormatPolicies renders policies with durations in whole seconds.
func (f *JSONFormatter) FormatPolicies(policies []core.RateLimitPolicy) (string, error) {
	out := make([]policyJSON, 0, len(policies))
	for _, p := range policies {
		out = append(out, policyJSON{
			Scope:         p.Scope,
			Limit:         p.Limit,
			WindowSeconds: int(p.Window.Seconds()),
			BlockSeconds:  int(p.Block.Seconds()),
		})
	}
	return f.marshal(out)
}

// FormatResult renders a decision together with the key it was made for.
func (f *JSONFormatter) FormatResult(scope, identifier string, result core.RateLimitResult) (string, error) {
	return f.marshal(resultJSON{Scope: scope, Identifier: identifier, RateLimitResult: result})
}

func (f *JSONFormatter) marshal(v any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
