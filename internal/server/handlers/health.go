package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/quillpress/quillpress/internal/errors"
	"github.com/quillpress/quillpress/internal/metrics"
)

// Check results reported per checker.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// probe describes one health endpoint. Liveness skips dependency checks:
// the limiter fails open, so a store outage degrades protection but never
// wedges the process, and restarting it would not help.
type probe struct {
	name       string
	failure    string
	timeout    time.Duration
	dependents bool
}

var (
	probeAggregate = probe{name: "aggregate", failure: "aggregate health check failed", timeout: 5 * time.Second, dependents: true}
	probeLive      = probe{name: "live", failure: "liveness probe failed", timeout: 2 * time.Second}
	probeReady     = probe{name: "ready", failure: "readiness probe failed", timeout: 5 * time.Second, dependents: true}
	probeStartup   = probe{name: "startup", failure: "startup probe failed", timeout: 3 * time.Second, dependents: true}
)

// HealthManager manages health checks and probe states
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// runHealthChecks runs every checker concurrently. A checker still running
// when ctx ends is reported as timed out.
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]HealthChecker, len(names))
	for i, name := range names {
		checkers[i] = hm.checkers[name]
	}
	hm.mu.RUnlock()

	results := make([]chan string, len(names))
	for i := range names {
		results[i] = make(chan string, 1)
		go func(i int) {
			started := time.Now()
			err := checkers[i].CheckHealth(ctx)
			metrics.RecordHealthCheck(names[i], err == nil, time.Since(started))
			if err != nil {
				results[i] <- StatusUnhealthy
				return
			}
			results[i] <- StatusHealthy
		}(i)
	}

	checks := make(map[string]string, len(names))
	for i, name := range names {
		select {
		case status := <-results[i]:
			checks[name] = status
		case <-ctx.Done():
			checks[name] = StatusTimeout
		}
	}
	return checks
}

// determineOverallStatus folds per-check results: any unhealthy check fails
// the probe, a timeout or degraded check only degrades it.
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := StatusHealthy
	for _, status := range checks {
		switch status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			overall = StatusDegraded
		}
	}
	return overall
}

func (hm *HealthManager) serveProbe(w http.ResponseWriter, r *http.Request, p probe) {
	checks := map[string]string{}
	if p.dependents {
		ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
		defer cancel()
		checks = hm.runHealthChecks(ctx)
	}
	status := hm.determineOverallStatus(checks)

	if status == StatusUnhealthy {
		envelope := apperrors.NewServiceUnavailableError(p.failure)
		apperrors.RespondWithError(w, r, enrichHealthEnvelope(envelope, p.name, status, checks))
		return
	}

	var body any = ProbeResponse{Status: status, Timestamp: time.Now().UTC()}
	if p == probeAggregate {
		body = HealthResponse{
			Status:    status,
			Version:   hm.version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checks,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler reports every check with the service version.
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeAggregate)
}

// LivenessHandler answers as long as the process can serve HTTP.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeLive)
}

// ReadinessHandler fails while a dependency such as the store is unreachable.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeReady)
}

// StartupHandler runs the dependency checks with a shorter budget.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveProbe(w, r, probeStartup)
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
		"probe":  probe,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	envelope = envelope.WithDetails(details)

	var failing []string
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)

	contextData := map[string]interface{}{
		"status": status,
		"probe":  probe,
	}
	if len(failing) > 0 {
		contextData["unhealthy_checks"] = failing
	}
	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func globalProbe(p probe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager != nil {
			globalHealthManager.serveProbe(w, r, p)
			return
		}
		envelope := apperrors.NewServiceUnavailableError("health manager not initialized")
		apperrors.RespondWithError(w, r, enrichHealthEnvelope(envelope, p.name, "unknown", nil))
	}
}

// Route handlers backed by the global manager.
var (
	HealthHandler    = globalProbe(probeAggregate)
	LivenessHandler  = globalProbe(probeLive)
	ReadinessHandler = globalProbe(probeReady)
	StartupHandler   = globalProbe(probeStartup)
)
