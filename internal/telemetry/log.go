package telemetry

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes every event as a structured warning
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a zap-backed sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("telemetry.ratelimit")}
}

// Report implements Sink
func (l *LogSink) Report(_ context.Context, ev Event) {
	l.logger.Warn("rate limit event",
		zap.String("id", ev.ID),
		zap.String("tenant", ev.Tenant),
		zap.String("endpoint", ev.Endpoint),
		zap.String("component", ev.Component),
		zap.String("priority", ev.Priority),
		zap.String("reason", ev.Reason),
		zap.Int("status_code", ev.StatusCode))
}
