package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
)

// wireFileInfo mirrors the documented CheckFileInfo JSON fields, bit-exact
// on name.
type wireFileInfo struct {
	BaseFileName            string  `json:"BaseFileName"`
	Size                     int64   `json:"Size"`
	OwnerID                  string  `json:"OwnerId"`
	UserID                   string  `json:"UserId"`
	UserFriendlyName         string  `json:"UserFriendlyName"`
	UserCanWrite             bool    `json:"UserCanWrite"`
	LastModifiedTime         string  `json:"LastModifiedTime"`
	PostMessageOrigin        string  `json:"PostMessageOrigin"`
	WatermarkText            string  `json:"WatermarkText"`
	SupportsLocks            bool    `json:"SupportsLocks"`
	SupportsRename           bool    `json:"SupportsRename"`
	DisablePrint             bool    `json:"DisablePrint"`
	DisableExport            bool    `json:"DisableExport"`
	DisableCopy              bool    `json:"DisableCopy"`
	DisableInactiveMessages  bool    `json:"DisableInactiveMessages"`
	EnableOwnerTermination   bool    `json:"EnableOwnerTermination"`
	HidePrintOption          bool    `json:"HidePrintOption"`
	HideSaveOption           bool    `json:"HideSaveOption"`
	HideExportOption         bool    `json:"HideExportOption"`
	UserCanNotWriteRelative  bool    `json:"UserCanNotWriteRelative"`
	EnableInsertRemoteImage  bool    `json:"EnableInsertRemoteImage"`
	EnableShare              bool    `json:"EnableShare"`
	HideUserList             bool    `json:"HideUserList"`
	UserCanRename            bool    `json:"UserCanRename"`
	BreadcrumbDocName        string  `json:"BreadcrumbDocName"`
	TemplateSaveAs           string  `json:"TemplateSaveAs"`
	TemplateSource           string  `json:"TemplateSource"`
	FileURL                  string  `json:"FileUrl"`
	HideChangeTrackingCtrls  bool    `json:"HideChangeTrackingControls"`
	DisableChangeTrackingRec bool    `json:"DisableChangeTrackingRecord"`
	DisableChangeTrackingShw bool    `json:"DisableChangeTrackingShow"`
}

// CheckFileInfo issues the CheckFileInfo GET and returns the parsed
// FileInfo. Malformed JSON or a missing BaseFileName fails with
// ErrInvalidArgument; a redirect loop fails with ErrRedirectLoop.
func (a *Adapter) CheckFileInfo(ctx context.Context, uri string, auth Auth) (info FileInfo, err error) {
	start := time.Now()
	defer func() { a.observe("CheckFileInfo", start, err) }()

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return FileInfo{}, &CheckFileInfoError{Kind: CheckFileInfoFailed, Wrapped: err}
	}
	a.applyAuth(req, auth, uri)

	resp, err := a.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrRedirectLoop) {
			return FileInfo{}, &CheckFileInfoError{Kind: CheckFileInfoRedirectLoop, Wrapped: ErrRedirectLoop}
		}
		logger.Warn("CheckFileInfo request failed", logFields(uri, "failed")...)
		return FileInfo{}, &CheckFileInfoError{Kind: CheckFileInfoFailed, Wrapped: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to body parsing below
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return FileInfo{}, &CheckFileInfoError{Kind: CheckFileInfoUnauthorized, Wrapped: fmt.Errorf("storage: status %d", resp.StatusCode)}
	default:
		return FileInfo{}, &CheckFileInfoError{Kind: CheckFileInfoFailed, Wrapped: fmt.Errorf("storage: status %d", resp.StatusCode)}
	}

	var wire wireFileInfo
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return FileInfo{}, &CheckFileInfoError{Kind: CheckFileInfoInvalidArgument, Wrapped: ErrInvalidArgument}
	}
	if wire.BaseFileName == "" {
		return FileInfo{}, &CheckFileInfoError{Kind: CheckFileInfoInvalidArgument, Wrapped: ErrInvalidArgument}
	}

	modified, _ := time.Parse(time.RFC3339, wire.LastModifiedTime)

	return FileInfo{
		BaseFileName:                wire.BaseFileName,
		Size:                        wire.Size,
		OwnerID:                     wire.OwnerID,
		UserID:                      wire.UserID,
		UserFriendlyName:            wire.UserFriendlyName,
		UserCanWrite:                wire.UserCanWrite,
		LastModifiedTime:            modified,
		PostMessageOrigin:           wire.PostMessageOrigin,
		WatermarkText:               wire.WatermarkText,
		SupportsLocks:               wire.SupportsLocks,
		SupportsRename:              wire.SupportsRename,
		DisablePrint:                wire.DisablePrint,
		DisableExport:               wire.DisableExport,
		DisableCopy:                 wire.DisableCopy,
		DisableInactiveMessages:     wire.DisableInactiveMessages,
		EnableOwnerTermination:      wire.EnableOwnerTermination,
		HidePrintOption:             wire.HidePrintOption,
		HideSaveOption:              wire.HideSaveOption,
		HideExportOption:            wire.HideExportOption,
		UserCanNotWriteRelative:     wire.UserCanNotWriteRelative,
		EnableInsertRemoteImage:     wire.EnableInsertRemoteImage,
		EnableShare:                 wire.EnableShare,
		HideUserList:                wire.HideUserList,
		UserCanRename:               wire.UserCanRename,
		BreadcrumbDocName:           wire.BreadcrumbDocName,
		TemplateSaveAs:              wire.TemplateSaveAs,
		TemplateSource:              wire.TemplateSource,
		FileURL:                     wire.FileURL,
		HideChangeTrackingControls:  wire.HideChangeTrackingCtrls,
		DisableChangeTrackingRecord: wire.DisableChangeTrackingRec,
		DisableChangeTrackingShow:   wire.DisableChangeTrackingShw,
		ModifiedTimeSafe:            true,
	}, nil
}
