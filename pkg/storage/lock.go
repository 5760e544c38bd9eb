package storage

import (
	"context"
	"net/http"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/lockctx"
)

// Lock issues LOCK (lock=true) or UNLOCK (lock=false) against the storage
// host using the token in lockCtx, with a zero-length body. On LockOk the
// caller is expected to call lockCtx.BumpTimer.
func (a *Adapter) Lock(ctx context.Context, uri string, auth Auth, lockCtx *lockctx.Context, lock bool) (result LockResult, err error) {
	start := time.Now()
	defer func() {
		a.observe("Lock", start, err)
		if a.metrics != nil {
			a.metrics.RecordLockOutcome(result.Kind)
		}
	}()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	override := "UNLOCK"
	if lock {
		override = "LOCK"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, nil)
	if err != nil {
		return LockResult{Kind: LockFailed, Reason: err.Error()}, err
	}
	a.applyAuth(req, auth, uri)
	req.Header.Set(headerWopiOverride, override)
	req.Header.Set(headerWopiLock, lockCtx.LockToken)
	req.ContentLength = 0

	resp, err := a.client.Do(req)
	if err != nil {
		logger.Warn("lock request failed", logFields(uri, "failed")...)
		return LockResult{Kind: LockFailed, Reason: err.Error()}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return LockResult{Kind: LockOk}, nil
	case resp.StatusCode == http.StatusNotImplemented:
		return LockResult{Kind: LockUnsupported}, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return LockResult{Kind: LockUnauthorized}, nil
	default:
		return LockResult{Kind: LockFailed, Reason: resp.Status}, nil
	}
}
