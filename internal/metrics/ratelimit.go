package metrics

import (
	"time"

	"github.com/quillpress/quillpress/internal/observability"
)

// Rate limiter metric names
const (
	RateLimitDecisionsTotal = "ratelimit_decisions_total"
	RateLimitFailOpenTotal  = "ratelimit_fail_open_total"
	RateLimitEvalDuration   = "ratelimit_evaluate_duration_ms"
	AlertsTotal             = "alerts_total"
	AlertsDroppedTotal      = "alerts_dropped_total"
)

// Decision outcomes
const (
	OutcomeAllowed      = "allowed"
	OutcomeBlocked      = "blocked"
	OutcomeNewlyBlocked = "newly_blocked"
	OutcomeFailOpen     = "fail_open"
)

// RecordRateLimitDecision records one evaluation and how long it took.
// Scope is a configured policy name, so cardinality stays bounded.
func RecordRateLimitDecision(scope, outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}

	_ = observability.TelemetrySystem.Counter(
		RateLimitDecisionsTotal,
		1,
		map[string]string{
			"scope":   scope,
			"outcome": outcome,
		},
	)

	_ = observability.TelemetrySystem.Histogram(
		RateLimitEvalDuration,
		duration,
		map[string]string{
			"scope": scope,
		},
	)

	if outcome == OutcomeFailOpen {
		_ = observability.TelemetrySystem.Counter(
			RateLimitFailOpenTotal,
			1,
			map[string]string{
				"scope": scope,
			},
		)
	}
}

// RecordAlert counts an emitted alert.
func RecordAlert(source, code, severity string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AlertsTotal,
			1,
			map[string]string{
				"source":   source,
				"code":     code,
				"severity": severity,
			},
		)
	}
}

// RecordAlertDropped counts an alert suppressed by throttling.
func RecordAlertDropped(code string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AlertsDroppedTotal,
			1,
			map[string]string{"code": code},
		)
	}
}
