// Package alert carries best-effort operational notifications raised by the
// rate limiter. Delivery never blocks or fails the caller.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/quillpress/quillpress/internal/metrics"
	"github.com/quillpress/quillpress/internal/observability"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Alert codes raised by the rate limiter.
const (
	CodeRateLimitBlocked      = "RATE_LIMIT_BLOCKED"
	CodeRateLimitStoreFailure = "RATE_LIMIT_STORE_FAILURE"
)

// Alert is a single notification.
type Alert struct {
	Source   string         `json:"source"`
	Code     string         `json:"code"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
}

// Sink receives alerts.
type Sink interface {
	Emit(ctx context.Context, a Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, a Alert) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// LogSink writes alerts to a structured logger.
type LogSink struct {
	Logger observability.Logger
}

// Emit logs the alert at a level matching its severity.
func (s LogSink) Emit(_ context.Context, a Alert) error {
	logger := observability.Or(s.Logger)

	fields := []zap.Field{
		zap.String("alert_source", a.Source),
		zap.String("alert_code", a.Code),
		zap.String("alert_severity", string(a.Severity)),
	}
	keys := make([]string, 0, len(a.Context))
	for key := range a.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fields = append(fields, zap.Any(key, a.Context[key]))
	}

	switch a.Severity {
	case SeverityError:
		logger.Error(a.Message, fields...)
	default:
		logger.Warn(a.Message, fields...)
	}
	return nil
}

// MetricsSink counts alerts through the telemetry system.
type MetricsSink struct{}

// Emit records the alert counter.
func (MetricsSink) Emit(_ context.Context, a Alert) error {
	metrics.RecordAlert(a.Source, a.Code, string(a.Severity))
	return nil
}

// MultiSink fans an alert out to every sink, continuing past failures.
type MultiSink []Sink

// Emit delivers to each sink and joins any errors.
func (m MultiSink) Emit(ctx context.Context, a Alert) error {
	var errs []error
	for i, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, a); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Deliver emits a through sink, swallowing errors and panics. Failures are
// logged and never reach the caller.
func Deliver(ctx context.Context, sink Sink, a Alert, logger observability.Logger) {
	if sink == nil {
		return
	}
	logger = observability.Or(logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Alert sink panicked",
				zap.String("alert_code", a.Code),
				zap.Any("panic", r))
		}
	}()

	if err := sink.Emit(ctx, a); err != nil {
		logger.Warn("Alert delivery failed",
			zap.String("alert_code", a.Code),
			zap.Error(err))
	}
}
