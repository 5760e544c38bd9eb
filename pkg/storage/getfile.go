package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/officekit/wsdbroker/internal/logger"
)

// GetFile downloads the document into destPath. When info.FileURL is set it
// is tried first; on failure the adapter falls back to "<uri>/contents".
// The download is rejected before it starts if local disk space is
// insufficient; a partial write is removed before returning an error.
func (a *Adapter) GetFile(ctx context.Context, uri string, auth Auth, info FileInfo, destPath string) (err error) {
	start := time.Now()
	defer func() { a.observe("GetFile", start, err) }()

	if err = checkDiskSpace(destPath, info.Size); err != nil {
		return err
	}

	if info.FileURL != "" {
		if err = a.downloadFrom(ctx, info.FileURL, auth, destPath); err == nil {
			if a.metrics != nil {
				a.metrics.RecordBytes("GetFile", info.Size)
			}
			return nil
		}
		logger.Warn("FileUrl download failed, falling back to contents endpoint", logFields(uri, "fallback")...)
	}

	err = a.downloadFrom(ctx, uri+"/contents", auth, destPath)
	if err == nil && a.metrics != nil {
		a.metrics.RecordBytes("GetFile", info.Size)
	}
	return err
}

func (a *Adapter) downloadFrom(ctx context.Context, url string, auth Auth, destPath string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	a.applyAuth(req, auth, url)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("storage: GetFile status %d", resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("storage: partial download: %w", err)
	}
	return f.Close()
}

// checkDiskSpace fails with ErrDiskFull when the filesystem backing
// destPath's directory has less free space than expectedSize.
func checkDiskSpace(destPath string, expectedSize int64) error {
	if expectedSize <= 0 {
		return nil
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(destPath), &stat); err != nil {
		// Can't determine free space; don't block the download on a
		// statfs failure that has nothing to do with the request itself.
		return nil
	}
	available := stat.Bavail * uint64(stat.Bsize)
	if available < uint64(expectedSize) {
		return ErrDiskFull
	}
	return nil
}
