package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Document & Session Identity
	// ========================================================================
	KeyDocKey     = "doc_key"     // Broker document key (URL-encoded path of the storage URI)
	KeyDocURI     = "doc_uri"     // Storage URI for the document
	KeySessionID  = "session_id"  // Client session identifier
	KeyRequestID  = "request_id"  // WebSocket/HTTP request identifier
	KeyKitPID     = "kit_pid"     // OS process id of the owning kit process
	KeyJailID     = "jail_id"     // Per-document jail/chroot identifier
	KeyClientIP   = "client_ip"   // Client IP address
	KeyUserName   = "user_name"   // Authenticated end-user name
	KeyUserID     = "user_id"     // Authenticated end-user id (storage host's notion of it)

	// ========================================================================
	// Tile Cache
	// ========================================================================
	KeyTileID     = "tile_id"     // Content-addressed tile identifier
	KeyPart       = "part"        // Document part/slide/sheet index
	KeyWidth      = "width"       // Tile width in pixels
	KeyHeight     = "height"      // Tile height in pixels
	KeyZoom       = "zoom"        // Tile zoom numerator/denominator encoded as float
	KeyCacheHit   = "cache_hit"   // Cache hit indicator
	KeyCacheBytes = "cache_bytes" // Current cache size in bytes
	KeyEvicted    = "evicted"     // Number of entries evicted

	// ========================================================================
	// Storage / WOPI
	// ========================================================================
	KeyStorageHost = "storage_host" // Storage host base URL
	KeyOutcome     = "outcome"      // Tagged-result outcome name (UploadOutcome, LockResult, ...)
	KeyStatusCode  = "status_code"  // HTTP status code returned by the storage host

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyAttempt    = "attempt"     // Retry attempt number
)

// TraceID returns a slog.Attr for the OpenTelemetry trace id.
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for the OpenTelemetry span id.
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// DocKey returns a slog.Attr for the document broker key.
func DocKey(key string) slog.Attr {
	return slog.String(KeyDocKey, key)
}

// SessionID returns a slog.Attr for a client session id.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// RequestID returns a slog.Attr for a request id.
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// KitPID returns a slog.Attr for a kit process id.
func KitPID(pid int) slog.Attr {
	return slog.Int(KeyKitPID, pid)
}

// ClientIP returns a slog.Attr for the client's IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// TileID returns a slog.Attr for a tile's content-addressed identifier.
func TileID(id string) slog.Attr {
	return slog.String(KeyTileID, id)
}

// CacheHit returns a slog.Attr for a cache hit indicator.
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// CacheBytes returns a slog.Attr for the current cache size in bytes.
func CacheBytes(n int64) slog.Attr {
	return slog.Int64(KeyCacheBytes, n)
}

// Evicted returns a slog.Attr for the number of evicted cache entries.
func Evicted(n int) slog.Attr {
	return slog.Int(KeyEvicted, n)
}

// Outcome returns a slog.Attr for a tagged-result outcome.
func Outcome(name string) slog.Attr {
	return slog.String(KeyOutcome, name)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}
