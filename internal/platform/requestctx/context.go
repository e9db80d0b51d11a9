// Package requestctx carries per-request values shared by middleware, handlers and services.
package requestctx

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceProjectKey
)

var nop = zap.NewNop()

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = nop
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	logger, _ := LoggerFrom(ctx)
	return logger
}

// LoggerFrom also reports whether a logger was attached to ctx.
func LoggerFrom(ctx context.Context) (*zap.Logger, bool) {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
			return logger, true
		}
	}
	return nop, false
}

// WithTraceProject records the Cloud project that owns the request's traces.
func WithTraceProject(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, traceProjectKey, projectID)
}

// TraceID is the hex trace id of the active span, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// TraceResource formats the active trace as projects/<id>/traces/<trace> for Cloud Logging.
func TraceResource(ctx context.Context) string {
	traceID := TraceID(ctx)
	project, _ := ctx.Value(traceProjectKey).(string)
	if traceID == "" || project == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/traces/%s", project, traceID)
}
