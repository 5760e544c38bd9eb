package broker

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/storage"
)

// spawnBackoffMultiplier bounds the total wait across retried spawn
// attempts to roughly 5x the configured per-attempt timeout, per the
// suspension-points model: kit spawn may be slow under load but must
// eventually give up.
const spawnBackoffMultiplier = 5

// LoadOptions carries the per-session load parameters spec.md §4.6 says
// accompany the "load" message sent to the kit: user, readonly, password,
// lang, watermark, options, template-source.
type LoadOptions struct {
	User           string
	ReadOnly       bool
	Password       string
	Lang           string
	WatermarkText  string
	Options        string
	TemplateSource string
}

// startLoading performs the full load sequence for the first session that
// attaches to a freshly created broker: spawn the kit (bounded-wait with
// backoff), CheckFileInfo, download into the jail, optional pre-filter,
// lock, and send "load" to the kit. It runs entirely on the poll-loop
// goroutine, before the loop's normal cooperative scheduling begins — the
// one allowed blocking stretch per the concurrency model.
func (b *DocumentBroker) startLoading(ctx context.Context, opts LoadOptions) error {
	b.state = StateLoading
	loadStart := time.Now()

	jailID := b.DocKey
	b.jailID = jailID
	kitProc, err := b.spawnKitWithBackoff(ctx, jailID)
	if err != nil {
		logger.Error("kit spawn failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
		b.broadcastError("load", "docloadtimeout")
		if b.deps.Metrics != nil {
			b.deps.Metrics.RecordDocumentLoad(time.Since(loadStart), err)
		}
		return err
	}
	b.kitProc = kitProc

	if err := b.loadIntoJail(ctx, jailID, opts); err != nil {
		logger.Error("document load failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
		_ = b.kitProc.Terminate(ctx, b.deps.KitCfg.TerminateGrace)
		b.broadcastError("load", "faileddocloading")
		if b.deps.Metrics != nil {
			b.deps.Metrics.RecordDocumentLoad(time.Since(loadStart), err)
		}
		return err
	}

	if b.deps.Metrics != nil {
		b.deps.Metrics.RecordDocumentLoad(time.Since(loadStart), nil)
	}
	b.state = StateLive
	return nil
}

// spawnKitWithBackoff retries kit.Spawn with a short backoff until either a
// process starts or the total elapsed time exceeds 5x the per-attempt
// timeout.
func (b *DocumentBroker) spawnKitWithBackoff(ctx context.Context, jailID string) (KitHandle, error) {
	deadline := time.Now().Add(spawnBackoffMultiplier * b.deps.KitCfg.SpawnTimeout)
	backoff := 200 * time.Millisecond

	attemptStart := time.Now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		proc, err := b.deps.Spawn(ctx, b.deps.KitCfg, jailID, b.DocKey)
		if err == nil {
			if b.deps.Metrics != nil {
				b.deps.Metrics.RecordKitSpawn(time.Since(attemptStart), true)
			}
			return proc, nil
		}
		lastErr = err
		logger.Warn("kit spawn attempt failed", logger.KeyDocKey, b.DocKey, logger.KeyAttempt, attempt, logger.Err(err))

		if time.Now().Add(backoff).After(deadline) {
			if b.deps.Metrics != nil {
				b.deps.Metrics.RecordKitSpawn(time.Since(attemptStart), false)
			}
			return nil, fmt.Errorf("broker: kit spawn exhausted retries: %w", lastErr)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

// loadIntoJail runs CheckFileInfo, the conflict check, the download, the
// optional pre-filter, the initial lock attempt, and the kit "load" message.
func (b *DocumentBroker) loadIntoJail(ctx context.Context, jailID string, opts LoadOptions) error {
	info, err := b.deps.Storage.CheckFileInfo(ctx, b.PublicURI, b.storageAuth)
	if err != nil {
		return fmt.Errorf("broker: checkFileInfo: %w", err)
	}

	if b.documentLastModifiedTime.IsZero() {
		b.documentLastModifiedTime = info.LastModifiedTime
	} else if info.LastModifiedTime.After(b.documentLastModifiedTime) {
		b.documentChangedInStorage = true
		if b.modified {
			b.broadcastError("storage", "documentconflict")
		} else {
			b.broadcast("close: documentconflict")
		}
	}
	b.fileInfo = info
	b.lock.InitSupportsLocks(info.SupportsLocks)

	jailDir := filepath.Join(b.deps.KitCfg.ChildRoot, jailID)
	if err := os.MkdirAll(jailDir, 0o750); err != nil {
		return fmt.Errorf("broker: create jail dir: %w", err)
	}

	filename := info.BaseFileName
	if filename == "" {
		filename = "document"
	}
	hostPath := filepath.Join(jailDir, filename)

	if err := b.deps.Storage.GetFile(ctx, b.PublicURI, b.storageAuth, info, hostPath); err != nil {
		return fmt.Errorf("broker: getFile: %w", err)
	}

	hostPath, filename, err = b.runPreFilter(ctx, hostPath, filename)
	if err != nil {
		return fmt.Errorf("broker: pre-filter: %w", err)
	}

	if info.SupportsLocks {
		if err := b.lock.EnsureToken(); err != nil {
			return fmt.Errorf("broker: generate lock token: %w", err)
		}
		result, err := b.deps.Storage.Lock(ctx, b.PublicURI, b.storageAuth, &b.lock, true)
		if err == nil && result.Kind == storage.LockOk {
			if err := b.lock.MarkLocked(time.Now()); err != nil {
				return fmt.Errorf("broker: mark locked: %w", err)
			}
		} else {
			b.lock.MarkFailed(result.Reason)
		}
	}

	jailedURI := "/user/docs/" + jailID + "/" + filename
	b.sendLoadToKit(jailedURI, opts)
	return nil
}

// runPreFilter converts hostPath via the configured pre-filter command when
// its extension matches, returning the (possibly new) host path and
// filename to load. A no-op when no pre-filter is configured or the
// extension doesn't match.
func (b *DocumentBroker) runPreFilter(ctx context.Context, hostPath, filename string) (string, string, error) {
	ext := b.deps.KitCfg.PreFilterExtension
	cmdTemplate := b.deps.KitCfg.PreFilterCommand
	if ext == "" || cmdTemplate == "" {
		return hostPath, filename, nil
	}
	if !strings.HasSuffix(filename, "."+ext) {
		return hostPath, filename, nil
	}

	outPath := strings.TrimSuffix(hostPath, "."+ext) + ".converted"
	fields := strings.Fields(cmdTemplate)
	for i, f := range fields {
		f = strings.ReplaceAll(f, "@INPUT@", hostPath)
		f = strings.ReplaceAll(f, "@OUTPUT@", outPath)
		fields[i] = f
	}
	if len(fields) == 0 {
		return hostPath, filename, nil
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	if err := cmd.Run(); err != nil {
		return "", "", fmt.Errorf("pre-filter command: %w", err)
	}
	return outPath, filepath.Base(outPath), nil
}

// sendLoadToKit sends the "load" message to the kit. It sends no "session"
// message before it.
func (b *DocumentBroker) sendLoadToKit(jailedURI string, opts LoadOptions) {
	var b2 strings.Builder
	b2.WriteString("load url=")
	b2.WriteString(jailedURI)
	if opts.ReadOnly {
		b2.WriteString(" readonly=1")
	}
	if opts.User != "" {
		b2.WriteString(" author=")
		b2.WriteString(url.QueryEscape(opts.User))
	}
	if opts.Password != "" {
		b2.WriteString(" password=")
		b2.WriteString(url.QueryEscape(opts.Password))
	}
	if opts.Lang != "" {
		b2.WriteString(" lang=")
		b2.WriteString(opts.Lang)
	}
	watermark := opts.WatermarkText
	if watermark == "" {
		watermark = b.fileInfo.WatermarkText
	}
	if watermark != "" {
		b2.WriteString(" watermarkText=")
		b2.WriteString(url.QueryEscape(watermark))
	}
	if opts.Options != "" {
		b2.WriteString(" options=")
		b2.WriteString(opts.Options)
	}
	if opts.TemplateSource != "" {
		b2.WriteString(" template=")
		b2.WriteString(opts.TemplateSource)
	}

	if err := b.kitProc.Send(b2.String(), nil); err != nil {
		logger.Warn("send load to kit failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
	}
}

// forwardToChild sends a client-originated message to the kit, prefixed
// per spec.md §6's "child-<sessionId> <message>" framing.
func (b *DocumentBroker) forwardToChild(sessionID, message string) error {
	return b.kitProc.Send("child-"+sessionID+" "+message, nil)
}
