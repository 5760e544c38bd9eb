package broker

import (
	"context"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/storage"
)

// maybeAutoSave issues a .uno:Save to the kit when the idle interval has
// elapsed since the last client activity or the periodic autosave interval
// has elapsed since the last save request, or always when force is true
// (document teardown). Returns whether a save command
// was actually sent.
func (b *DocumentBroker) maybeAutoSave(now time.Time, force bool) bool {
	if len(b.sessions) == 0 || b.kitProc == nil || b.state != StateLive {
		return false
	}
	if !b.modified && !force {
		return false
	}

	sess := b.writableSession()
	if sess == nil {
		return false
	}

	if force {
		return b.sendUnoSave(sess.ID, true, false)
	}

	idleDuration := time.Duration(b.deps.DocCfg.IdleSaveDurationSecs) * time.Second
	autoDuration := time.Duration(b.deps.DocCfg.AutosaveDurationSecs) * time.Second

	shouldSave := false
	if idleDuration > 0 && now.Sub(b.lastActivityTime) >= idleDuration {
		shouldSave = true
	}
	if autoDuration > 0 && now.Sub(b.lastSaveRequestTime) >= autoDuration {
		shouldSave = true
	}
	if !shouldSave {
		return false
	}

	return b.sendUnoSave(sess.ID, true, true)
}

// sendUnoSave forwards a .uno:Save command carrying the JSON argument blob
// the kit expects, and records the request time so autosave's interval
// check has a fresh baseline.
func (b *DocumentBroker) sendUnoSave(sessionID string, dontTerminateEdit, dontSaveIfUnmodified bool) bool {
	args := "{"
	wrote := false
	if dontTerminateEdit {
		args += `"DontTerminateEdit":{"type":"boolean","value":true}`
		wrote = true
	}
	if dontSaveIfUnmodified {
		if wrote {
			args += ","
		}
		args += `"DontSaveIfUnmodified":{"type":"boolean","value":true}`
	}
	args += "}"

	if err := b.forwardToChild(sessionID, "uno .uno:Save "+args); err != nil {
		logger.Warn("send .uno:Save failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
		return false
	}
	b.lastSaveRequestTime = time.Now()
	b.awaitingSaveAck = true
	return true
}

// saveOutcome carries the kit's report of a .uno:Save attempt, parsed from
// its "unocommandresult:" response.
type saveOutcome struct {
	Success bool
	Result  string
}

// handleSaveResult reacts to the kit's save outcome by uploading the saved
// local file to the storage host, unless the kit reports the document was
// unmodified (a no-op save) and this wasn't a forced save.
func (b *DocumentBroker) handleSaveResult(ctx context.Context, sessionID string, outcome saveOutcome, force bool) {
	b.awaitingSaveAck = false
	if !outcome.Success && outcome.Result == "unmodified" && !force {
		logger.Debug("save skipped: unmodified", logger.KeyDocKey, b.DocKey)
		return
	}
	if !outcome.Success && !force {
		logger.Error("save failed in kit", logger.KeyDocKey, b.DocKey)
		if sess, ok := b.sessions[sessionID]; ok {
			b.sendToSession(sess, "error: cmd=storage kind=savefailed", nil)
		}
		return
	}

	b.uploadToStorage(ctx, sessionID, force, false)
}

// uploadToStorage persists the jailed file to the storage host. isAutosave
// marks the upload as a background checkpoint rather than a user-issued
// save; the distinction only changes how the storage host accounts for it,
// never whether the upload happens.
func (b *DocumentBroker) uploadToStorage(ctx context.Context, sessionID string, force, isAutosave bool) {
	req := storage.PutFileRequest{
		URI:                   b.PublicURI,
		Auth:                  b.storageAuth,
		Lock:                  &b.lock,
		LocalPath:             b.jailedFilePath(),
		IsModifiedByUser:      b.modified,
		IsAutosave:            isAutosave,
		Force:                 force,
		LastKnownModifiedTime: b.documentLastModifiedTime,
	}

	uploadStart := time.Now()
	b.saveInFlight = true
	b.deps.Storage.AsyncPutFile(ctx, req, func(outcome storage.UploadOutcome) {
		b.AddCallback(func() {
			b.saveInFlight = false
			b.onUploadOutcome(sessionID, outcome, time.Since(uploadStart))
		})
	})
}

// onUploadOutcome applies the result of a PutFile attempt. Runs on the
// poll loop via AsyncPutFile's callback.
func (b *DocumentBroker) onUploadOutcome(sessionID string, outcome storage.UploadOutcome, duration time.Duration) {
	if b.deps.Metrics != nil {
		b.deps.Metrics.RecordSave(outcome.String(), duration)
	}
	switch outcome.Kind {
	case storage.UploadOk:
		b.modified = false
		if t, err := time.Parse(time.RFC3339, outcome.NewModifiedTime); err == nil {
			b.documentLastModifiedTime = t
		}
		b.documentChangedInStorage = false
		b.storeFailureCount = 0
		logger.Info("saved to storage", logger.KeyDocKey, b.DocKey)
	case storage.UploadDocChanged:
		b.broadcastError("storage", "documentconflict")
	case storage.UploadTooLarge:
		b.broadcastError("storage", "filetoolarge")
		b.storeFailureCount++
	case storage.UploadUnauthorized:
		b.broadcastError("storage", "saveunauthorized")
		b.storeFailureCount++
	default:
		b.storeFailureCount++
		if b.storeFailureCount >= b.deps.DocCfg.LimitStoreFailures && b.deps.DocCfg.LimitStoreFailures > 0 {
			b.dataLossOnUnload = true
			b.broadcastError("internal", "savefailed")
		}
		logger.Warn("upload to storage failed", logger.KeyDocKey, b.DocKey, logger.KeyOutcome, outcome.Kind)
	}
	b.Wakeup()
}

// jailedFilePath is the on-host path the kit writes the saved document to
// inside the document's jail, used as the upload source for PutFile.
func (b *DocumentBroker) jailedFilePath() string {
	return b.deps.KitCfg.ChildRoot + "/" + b.jailID + "/" + b.fileInfo.BaseFileName
}

// refreshLockIfNeeded renews the WOPI lock when its refresh timer has
// elapsed, per spec.md §4.2. Skipped entirely when the storage host
// doesn't support locking.
func (b *DocumentBroker) refreshLockIfNeeded(ctx context.Context, refreshInterval time.Duration) {
	if !b.lock.SupportsLocks || !b.lock.IsLocked {
		return
	}
	now := time.Now()
	if !b.lock.NeedsRefresh(now, refreshInterval) {
		return
	}

	result, err := b.deps.Storage.Lock(ctx, b.PublicURI, b.storageAuth, &b.lock, true)
	if err != nil || result.Kind != storage.LockOk {
		reason := ""
		if result.Kind != storage.LockOk {
			reason = result.Reason
		} else if err != nil {
			reason = err.Error()
		}
		b.lock.MarkFailed(reason)
		logger.Warn("lock refresh failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
		return
	}
	b.lock.BumpTimer(now)
}

// renameDocument handles a client-issued rename: saveAs under the current
// URI's new filename, then broadcast the "renamefile:" notice the original
// protocol uses to tell every session the canonical name changed. Runs the
// actual PutFile off the poll loop via AsyncPutFile, the same as any other
// upload (uploadToStorage) — a rename is issued from the poll-loop
// goroutine itself (handleClientMessage), so a blocking PutFile here would
// stall every session's tiles and keystrokes for the full upload.
func (b *DocumentBroker) renameDocument(ctx context.Context, newFilename string) {
	b.isRename = true
	req := storage.PutFileRequest{
		URI:       b.PublicURI,
		Auth:      b.storageAuth,
		Lock:      &b.lock,
		LocalPath: b.jailedFilePath(),
		Force:     true,
	}

	b.saveInFlight = true
	b.deps.Storage.AsyncPutFile(ctx, req, func(outcome storage.UploadOutcome) {
		b.AddCallback(func() {
			b.saveInFlight = false
			b.isRename = false
			if outcome.Kind != storage.UploadOk {
				logger.Warn("rename upload failed", logger.KeyDocKey, b.DocKey, logger.KeyOutcome, outcome.Kind)
				b.broadcastError("renamefile", "renamefailed")
				return
			}
			b.broadcast("renamefile: filename=" + newFilename)
		})
	})
}
