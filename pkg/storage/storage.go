// Package storage implements the broker's WOPI-like adapter to the storage
// host: CheckFileInfo, file download/upload, and locking, all over HTTP and
// bounded by a per-request timeout.
package storage

import (
	"context"
	"net/http"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/config"
)

// Auth carries the credentials a session extracted from its public URI
// query string, preferring access_token and falling back to access_header.
type Auth struct {
	AccessToken  string
	AccessHeader string
}

// FileInfo is the parsed response of a CheckFileInfo call, covering the
// fields the broker actually consumes.
type FileInfo struct {
	BaseFileName  string
	Size          int64
	OwnerID       string
	UserID        string
	UserFriendlyName string
	UserCanWrite  bool
	LastModifiedTime time.Time
	PostMessageOrigin string
	WatermarkText string

	SupportsLocks bool
	SupportsRename bool

	DisablePrint  bool
	DisableExport bool
	DisableCopy   bool
	DisableInactiveMessages bool

	EnableOwnerTermination bool
	HidePrintOption  bool
	HideSaveOption   bool
	HideExportOption bool

	UserCanNotWriteRelative bool
	EnableInsertRemoteImage bool
	EnableShare             bool
	HideUserList            bool
	UserCanRename           bool

	BreadcrumbDocName string
	TemplateSaveAs    string
	TemplateSource    string

	FileURL string

	HideChangeTrackingControls  bool
	DisableChangeTrackingRecord bool
	DisableChangeTrackingShow   bool

	// ModifiedTimeSafe is set to true by CheckFileInfo. Nothing in this
	// module clears it or reads it: whether an upload is timestamp-guarded
	// depends only on PutFileRequest.Force.
	ModifiedTimeSafe bool
}

// Adapter is the broker's handle to one document's storage host. It is
// stateless across documents; callers hold one Adapter per broker.
type Adapter struct {
	client         *http.Client
	maxRedirects   int
	requestTimeout time.Duration
	isLegacyServer bool
	metrics        Metrics
}

// New builds an Adapter from the storage section of the process
// configuration.
func New(cfg config.WopiConfig) *Adapter {
	a := &Adapter{
		maxRedirects:   cfg.MaxRedirects,
		requestTimeout: cfg.RequestTimeout,
		isLegacyServer: cfg.IsLegacyServer,
	}
	a.client = &http.Client{
		Timeout: cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= a.maxRedirects {
				return ErrRedirectLoop
			}
			return nil
		},
	}
	return a
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.requestTimeout)
}

func logFields(uri string, outcome string) []any {
	return []any{logger.KeyStorageHost, uri, logger.KeyOutcome, outcome}
}
