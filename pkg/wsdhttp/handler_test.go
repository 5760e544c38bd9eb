package wsdhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officekit/wsdbroker/pkg/broker"
	"github.com/officekit/wsdbroker/pkg/clipboardstore"
	"github.com/officekit/wsdbroker/pkg/config"
	"github.com/officekit/wsdbroker/pkg/kit"
	"github.com/officekit/wsdbroker/pkg/lockctx"
	"github.com/officekit/wsdbroker/pkg/registry"
	"github.com/officekit/wsdbroker/pkg/storage"
)

// fakeStorage and fakeKit mirror pkg/registry's test doubles: a storage
// client and kit handle that always succeed, so a broker admits without a
// real storage host or child process.
type fakeStorage struct{}

func (fakeStorage) CheckFileInfo(ctx context.Context, uri string, auth storage.Auth) (storage.FileInfo, error) {
	return storage.FileInfo{BaseFileName: "doc.odt", SupportsLocks: false}, nil
}

func (fakeStorage) GetFile(ctx context.Context, uri string, auth storage.Auth, info storage.FileInfo, destPath string) error {
	return nil
}

func (fakeStorage) PutFile(ctx context.Context, req storage.PutFileRequest) (storage.UploadOutcome, error) {
	return storage.UploadOutcome{Kind: storage.UploadOk}, nil
}

func (fakeStorage) AsyncPutFile(ctx context.Context, req storage.PutFileRequest, callback func(storage.UploadOutcome)) {
	callback(storage.UploadOutcome{Kind: storage.UploadOk})
}

func (fakeStorage) Lock(ctx context.Context, uri string, auth storage.Auth, lockCtx *lockctx.Context, lock bool) (storage.LockResult, error) {
	return storage.LockResult{Kind: storage.LockOk}, nil
}

type fakeKit struct {
	output chan kit.Frame
}

func newFakeKit() *fakeKit { return &fakeKit{output: make(chan kit.Frame)} }

func (k *fakeKit) PID() int                               { return 99 }
func (k *fakeKit) Output() <-chan kit.Frame               { return k.output }
func (k *fakeKit) Send(line string, payload []byte) error { return nil }
func (k *fakeKit) Terminate(ctx context.Context, grace time.Duration) error {
	close(k.output)
	return nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	reg := registry.NewRegistry(registry.Deps{
		Storage: fakeStorage{},
		Spawn: func(ctx context.Context, cfg config.KitConfig, jailID, docKey string) (broker.KitHandle, error) {
			return newFakeKit(), nil
		},
		KitCfg: config.KitConfig{
			ChildRoot:      t.TempDir(),
			SpawnTimeout:   time.Second,
			TerminateGrace: time.Second,
		},
		DocCfg: config.PerDocumentConfig{},
	})
	return NewHandler(reg, "test-server", "1.0.0-test", clipboardstore.New())
}

func TestLiveness_AlwaysOK(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Liveness(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestReadiness_ReportsDocumentCount(t *testing.T) {
	h := newTestHandler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := h.reg.GetOrCreate(ctx, "https://storage.example.com/wopi/files/a?access_token=t", broker.LoadOptions{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()

	h.Readiness(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"documents":1`)
}

func TestServeWS_MissingWOPISrcReturnsBadRequest(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/cool/ws", nil)
	w := httptest.NewRecorder()

	h.ServeWS(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBuildStorageURI_FoldsCredentialsIntoQuery(t *testing.T) {
	uri, err := buildStorageURI("https://storage.example.com/wopi/files/abc", "tok123", "")
	require.NoError(t, err)
	assert.Contains(t, uri, "access_token=tok123")
}

func TestBuildStorageURI_RejectsUnparsableURI(t *testing.T) {
	_, err := buildStorageURI("://not-a-url", "tok", "")
	assert.Error(t, err)
}
