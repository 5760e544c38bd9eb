package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single client session
// or background operation within a document broker.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	DocKey    string // Document broker key (URL-encoded path of the storage URI)
	SessionID string // Client session identifier
	KitPID    int    // OS process id of the owning kit process, 0 if none yet
	RequestID string // WebSocket/HTTP request identifier
	ClientIP  string // Client IP address (without port)
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext scoped to a document broker.
func NewLogContext(docKey string) *LogContext {
	return &LogContext{
		DocKey:    docKey,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithSession returns a copy with the session id set
func (lc *LogContext) WithSession(sessionID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.SessionID = sessionID
	}
	return clone
}

// WithKitPID returns a copy with the kit process id set
func (lc *LogContext) WithKitPID(pid int) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.KitPID = pid
	}
	return clone
}

// WithRequest returns a copy with the request id and client IP set
func (lc *LogContext) WithRequest(requestID, clientIP string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RequestID = requestID
		clone.ClientIP = clientIP
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
