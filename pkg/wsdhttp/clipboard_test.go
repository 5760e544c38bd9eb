package wsdhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officekit/wsdbroker/pkg/broker"
)

func TestServeClipboard_MissingParamsReturnsBadRequest(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/cool/clipboard", nil)
	w := httptest.NewRecorder()

	h.ServeClipboard(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeClipboard_UnknownDocumentFallsBackToStore(t *testing.T) {
	h := newTestHandler(t)
	h.clipStore.Put("tag123", "", "text/plain", []byte("hello"))

	req := httptest.NewRequest(http.MethodGet,
		"/cool/clipboard?WOPISrc=https://storage.example.com/wopi/files/missing&ViewId=1&Tag=tag123", nil)
	w := httptest.NewRecorder()

	h.ServeClipboard(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", w.Body.String())
}

func TestServeClipboard_NoMatchingSessionFallsBackToStore(t *testing.T) {
	h := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uri := "https://storage.example.com/wopi/files/doc?access_token=t"
	_, err := h.reg.GetOrCreate(ctx, uri, broker.LoadOptions{})
	require.NoError(t, err)

	h.clipStore.Put("savedtag", "", "text/html", []byte("<p>saved</p>"))

	req := httptest.NewRequest(http.MethodGet,
		"/cool/clipboard?WOPISrc=https://storage.example.com/wopi/files/doc&ViewId=1&Tag=savedtag&access_token=t", nil)
	w := httptest.NewRecorder()

	h.ServeClipboard(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<p>saved</p>", w.Body.String())
}

func TestServeClipboard_NoFallbackStoreReturnsNotFound(t *testing.T) {
	h := newTestHandler(t)
	h.clipStore = nil

	req := httptest.NewRequest(http.MethodGet,
		"/cool/clipboard?WOPISrc=https://storage.example.com/wopi/files/missing&ViewId=1&Tag=tag123", nil)
	w := httptest.NewRecorder()

	h.ServeClipboard(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
