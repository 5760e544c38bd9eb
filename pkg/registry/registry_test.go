package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officekit/wsdbroker/pkg/broker"
	"github.com/officekit/wsdbroker/pkg/config"
	"github.com/officekit/wsdbroker/pkg/kit"
	"github.com/officekit/wsdbroker/pkg/lockctx"
	"github.com/officekit/wsdbroker/pkg/storage"
)

// fakeStorage is a minimal StorageClient that always reports a small
// document on a host without lock support and never fails, so
// startLoading completes without a real storage host.
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

// fakeKit is a KitHandle whose output channel never produces a frame,
// so a broker created against it sits in StateLive until told otherwise.
type fakeKit struct {
	output chan kit.Frame
}

func newFakeKit() *fakeKit { return &fakeKit{output: make(chan kit.Frame)} }

func (k *fakeKit) PID() int                          { return 99 }
func (k *fakeKit) Output() <-chan kit.Frame          { return k.output }
func (k *fakeKit) Send(line string, payload []byte) error { return nil }
func (k *fakeKit) Terminate(ctx context.Context, grace time.Duration) error {
	close(k.output)
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(Deps{
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
}

func TestGetOrCreate_SecondCallReturnsSameBroker(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uri := "https://storage.example.com/wopi/files/abc?access_token=tok"
	b1, err := reg.GetOrCreate(ctx, uri, broker.LoadOptions{})
	require.NoError(t, err)
	require.NotNil(t, b1)

	b2, err := reg.GetOrCreate(ctx, uri, broker.LoadOptions{})
	require.NoError(t, err)
	assert.Same(t, b1, b2)
	assert.Equal(t, 1, reg.Count())
}

func TestGetOrCreate_DifferentURIsGetDifferentBrokers(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b1, err := reg.GetOrCreate(ctx, "https://storage.example.com/wopi/files/a?access_token=t", broker.LoadOptions{})
	require.NoError(t, err)
	b2, err := reg.GetOrCreate(ctx, "https://storage.example.com/wopi/files/b?access_token=t", broker.LoadOptions{})
	require.NoError(t, err)

	assert.NotSame(t, b1, b2)
	assert.Equal(t, 2, reg.Count())
}

func TestGetOrCreate_RejectsAfterDrain(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Drain("shutdown")

	_, err := reg.GetOrCreate(ctx, "https://storage.example.com/wopi/files/a?access_token=t", broker.LoadOptions{})
	assert.ErrorIs(t, err, ErrDraining)
}

func TestDrain_RemovesBrokerOnceSessionsGone(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uri := "https://storage.example.com/wopi/files/abc?access_token=tok"
	b, err := reg.GetOrCreate(ctx, uri, broker.LoadOptions{})
	require.NoError(t, err)

	// No sessions attached, so requesting close lets checkExit tear it down
	// on the next poll tick.
	reg.Drain("shutdown")

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, reg.WaitDrained(waitCtx))

	_, ok := reg.Get(b.DocKey)
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Count())
}

func TestListDocKeys_ReflectsAdmittedBrokers(t *testing.T) {
	reg := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := reg.GetOrCreate(ctx, "https://storage.example.com/wopi/files/a?access_token=t", broker.LoadOptions{})
	require.NoError(t, err)

	keys := reg.ListDocKeys()
	require.Len(t, keys, 1)
}
