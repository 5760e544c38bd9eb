package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/lockctx"
)

// PutFileRequest bundles the parameters of a putFile/asyncPutFile call.
type PutFileRequest struct {
	URI              string
	Auth             Auth
	Lock             *lockctx.Context
	LocalPath        string
	IsModifiedByUser bool
	IsAutosave       bool
	IsExitSave       bool
	ExtendedData     string
	// Force, when true, skips the X-COOL-WOPI-Timestamp guard and uploads
	// unconditionally (the broker sets it for forced saves and renames).
	Force bool
	// LastKnownModifiedTime is echoed back to the storage host as a
	// guard against an unnoticed external change, unless Force is set.
	LastKnownModifiedTime time.Time
}

type wireUploadResponse struct {
	LastModifiedTime string `json:"LastModifiedTime"`
	Name             string `json:"Name"`
	URL              string `json:"Url"`
	COOLStatusCode   int    `json:"COOLStatusCode"`
}

const coolStatusCodeDocChanged = 1010

// PutFile uploads the file at req.LocalPath and blocks until the storage
// host responds.
func (a *Adapter) PutFile(ctx context.Context, req PutFileRequest) (UploadOutcome, error) {
	return a.putFile(ctx, req)
}

// AsyncPutFile starts the same upload as PutFile but returns immediately;
// callback is invoked with the outcome once the request completes. The
// caller is responsible for marshaling callback back onto its own
// single-threaded poll loop — this adapter makes no such guarantee.
func (a *Adapter) AsyncPutFile(ctx context.Context, req PutFileRequest, callback func(UploadOutcome)) {
	go func() {
		outcome, err := a.putFile(ctx, req)
		if err != nil {
			outcome = UploadOutcome{Kind: UploadFailed, Reason: err.Error()}
		}
		callback(outcome)
	}()
}

func (a *Adapter) putFile(ctx context.Context, req PutFileRequest) (outcome UploadOutcome, err error) {
	start := time.Now()
	var uploadedBytes int64
	defer func() {
		a.observe("PutFile", start, err)
		if err == nil && a.metrics != nil {
			a.metrics.RecordBytes("PutFile", uploadedBytes)
		}
	}()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	data, err := os.ReadFile(req.LocalPath)
	uploadedBytes = int64(len(data))
	if err != nil {
		return UploadOutcome{Kind: UploadFailed, Reason: err.Error()}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URI+"/contents", bytes.NewReader(data))
	if err != nil {
		return UploadOutcome{Kind: UploadFailed, Reason: err.Error()}, err
	}
	a.applyAuth(httpReq, req.Auth, req.URI)
	httpReq.Header.Set(headerWopiOverride, "PUT")
	if req.Lock != nil && req.Lock.IsLocked {
		httpReq.Header.Set(headerWopiLock, req.Lock.LockToken)
	}

	timestamp := ""
	if !req.Force && !req.LastKnownModifiedTime.IsZero() {
		timestamp = req.LastKnownModifiedTime.UTC().Format(time.RFC3339)
	}
	a.setCoolHeaders(httpReq, req.IsModifiedByUser, req.IsAutosave, req.IsExitSave, req.ExtendedData, timestamp)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		logger.Warn("PutFile request failed", logFields(req.URI, "failed")...)
		return UploadOutcome{Kind: UploadFailed, Reason: err.Error()}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	return a.parseUploadResponse(resp)
}

func (a *Adapter) parseUploadResponse(resp *http.Response) (UploadOutcome, error) {
	switch {
	case resp.StatusCode == http.StatusOK:
		var wire wireUploadResponse
		_ = json.NewDecoder(resp.Body).Decode(&wire)
		return UploadOutcome{Kind: UploadOk, NewModifiedTime: wire.LastModifiedTime}, nil

	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return UploadOutcome{Kind: UploadUnauthorized}, nil

	case resp.StatusCode == http.StatusConflict:
		var wire wireUploadResponse
		_ = json.NewDecoder(resp.Body).Decode(&wire)
		if wire.COOLStatusCode == coolStatusCodeDocChanged {
			return UploadOutcome{Kind: UploadDocChanged}, nil
		}
		return UploadOutcome{Kind: UploadConflict, DocChanged: false}, nil

	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return UploadOutcome{Kind: UploadTooLarge}, nil

	default:
		return UploadOutcome{Kind: UploadFailed, Reason: fmt.Sprintf("status %d", resp.StatusCode)}, nil
	}
}
