package metrics

import (
	"time"

	"github.com/quillpress/quillpress/internal/observability"
)

// Service lifecycle metric names
const (
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
	StoreInfo           = "app_store_info"
	PoliciesConfigured  = "app_ratelimit_policies"
)

func healthLabel(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

// RecordHealthCheck records one checker run, such as rate_limit_store.
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	tel := observability.TelemetrySystem
	if tel == nil {
		return
	}
	_ = tel.Counter(HealthCheckTotal, 1, map[string]string{"check": checkName, "status": healthLabel(healthy)})
	_ = tel.Histogram(HealthCheckDuration, duration, map[string]string{"check": checkName})
}

// SetServerStartTime publishes the process start as a Unix timestamp.
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(timestamp), nil)
	}
}

// SetServingConfig publishes the active store driver and how many policies
// the limiter was built with.
func SetServingConfig(driver string, policies int) {
	tel := observability.TelemetrySystem
	if tel == nil {
		return
	}
	_ = tel.Gauge(StoreInfo, 1, map[string]string{"driver": driver})
	_ = tel.Gauge(PoliciesConfigured, float64(policies), nil)
}
