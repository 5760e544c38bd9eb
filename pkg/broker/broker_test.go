package broker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officekit/wsdbroker/pkg/config"
	"github.com/officekit/wsdbroker/pkg/kit"
	"github.com/officekit/wsdbroker/pkg/lockctx"
	"github.com/officekit/wsdbroker/pkg/session"
	"github.com/officekit/wsdbroker/pkg/storage"
	"github.com/officekit/wsdbroker/pkg/tiledesc"
)

func parseTestDesc(fields string) (tiledesc.TileDesc, error) {
	return tiledesc.Parse(strings.Fields(fields))
}

// fakeStorage is a minimal in-memory StorageClient for broker tests.
type fakeStorage struct {
	info       storage.FileInfo
	checkErr   error
	getErr     error
	lockResult storage.LockResult
	uploads    []storage.PutFileRequest
}

func (f *fakeStorage) CheckFileInfo(ctx context.Context, uri string, auth storage.Auth) (storage.FileInfo, error) {
	return f.info, f.checkErr
}

func (f *fakeStorage) GetFile(ctx context.Context, uri string, auth storage.Auth, info storage.FileInfo, destPath string) error {
	return f.getErr
}

func (f *fakeStorage) PutFile(ctx context.Context, req storage.PutFileRequest) (storage.UploadOutcome, error) {
	f.uploads = append(f.uploads, req)
	return storage.UploadOutcome{Kind: storage.UploadOk}, nil
}

func (f *fakeStorage) AsyncPutFile(ctx context.Context, req storage.PutFileRequest, callback func(storage.UploadOutcome)) {
	f.uploads = append(f.uploads, req)
	callback(storage.UploadOutcome{Kind: storage.UploadOk, NewModifiedTime: time.Now().UTC().Format(time.RFC3339)})
}

func (f *fakeStorage) Lock(ctx context.Context, uri string, auth storage.Auth, lockCtx *lockctx.Context, lock bool) (storage.LockResult, error) {
	return f.lockResult, nil
}

// fakeKit is a minimal in-memory KitHandle for broker tests.
type fakeKit struct {
	sent        []string
	output      chan kit.Frame
	terminated  bool
}

func newFakeKit() *fakeKit {
	return &fakeKit{output: make(chan kit.Frame, 16)}
}

func (k *fakeKit) PID() int                      { return 42 }
func (k *fakeKit) Output() <-chan kit.Frame      { return k.output }
func (k *fakeKit) Send(line string, payload []byte) error {
	k.sent = append(k.sent, line)
	return nil
}
func (k *fakeKit) Terminate(ctx context.Context, grace time.Duration) error {
	k.terminated = true
	close(k.output)
	return nil
}

func newTestBroker(t *testing.T, fs StorageClient, fk *fakeKit) *DocumentBroker {
	t.Helper()
	deps := Deps{
		Storage: fs,
		Spawn: func(ctx context.Context, cfg config.KitConfig, jailID, docKey string) (KitHandle, error) {
			return fk, nil
		},
		KitCfg: config.KitConfig{
			ChildRoot:      t.TempDir(),
			SpawnTimeout:   time.Second,
			TerminateGrace: time.Second,
		},
		DocCfg: config.PerDocumentConfig{
			IdleSaveDurationSecs: 30,
			AutosaveDurationSecs: 300,
			LimitStoreFailures:   5,
		},
	}
	return New("doc-1", "https://host/wopi/files/1", deps)
}

func TestDeriveDocKey_DropsHostKeepsPath(t *testing.T) {
	key, err := DeriveDocKey("https://host-a.example/wopi/files/abc123?access_token=x")
	require.NoError(t, err)

	key2, err := DeriveDocKey("https://host-b.example/wopi/files/abc123?access_token=y")
	require.NoError(t, err)

	assert.Equal(t, key, key2, "different host aliases sharing a path must derive the same doc key")
}

func TestNew_StartsInCreatedState(t *testing.T) {
	b := newTestBroker(t, &fakeStorage{}, newFakeKit())
	assert.Equal(t, StateCreated, b.State())
	assert.Equal(t, 0, b.SessionCount())
}

func TestAddRemoveSession_TracksCount(t *testing.T) {
	b := newTestBroker(t, &fakeStorage{}, newFakeKit())
	sess := session.New("sess-1", "doc-1", session.PublicURI{}, session.Permissions{})

	b.addSession(sess)
	assert.Equal(t, 1, b.SessionCount())
	assert.Equal(t, session.Loading, sess.State())

	wasLast := b.removeSession("sess-1")
	assert.True(t, wasLast)
	assert.Equal(t, 0, b.SessionCount())
}

func TestWritableSession_PrefersDocumentOwner(t *testing.T) {
	b := newTestBroker(t, &fakeStorage{}, newFakeKit())

	other := session.New("other", "doc-1", session.PublicURI{}, session.Permissions{})
	other.Attach()
	other.MarkLive(1, true, 0)
	b.addSession(other)

	owner := session.New("owner", "doc-1", session.PublicURI{}, session.Permissions{})
	owner.Attach()
	owner.MarkLive(2, true, 0)
	owner.IsDocumentOwner = true
	b.addSession(owner)

	got := b.writableSession()
	require.NotNil(t, got)
	assert.Equal(t, "owner", got.ID)
}

func TestWritableSession_SkipsReadOnlyAndNonLive(t *testing.T) {
	b := newTestBroker(t, &fakeStorage{}, newFakeKit())

	ro := session.New("ro", "doc-1", session.PublicURI{}, session.Permissions{ReadOnly: true})
	ro.Attach()
	ro.MarkLive(1, true, 0)
	b.addSession(ro)

	assert.Nil(t, b.writableSession())
}

func TestBroadcast_DeliversToEverySession(t *testing.T) {
	b := newTestBroker(t, &fakeStorage{}, newFakeKit())

	var delivered []string
	b.SetOnSessionMessage(func(sessionID, line string, payload []byte) {
		delivered = append(delivered, sessionID+":"+line)
	})

	s1 := session.New("s1", "doc-1", session.PublicURI{}, session.Permissions{})
	s2 := session.New("s2", "doc-1", session.PublicURI{}, session.Permissions{})
	b.addSession(s1)
	b.addSession(s2)

	b.broadcastError("storage", "documentconflict")
	assert.Len(t, delivered, 2)
}

func TestStartLoading_ConflictDetectedOnSecondLoad(t *testing.T) {
	fs := &fakeStorage{info: storage.FileInfo{BaseFileName: "doc.odt", LastModifiedTime: time.Now()}}
	fk := newFakeKit()
	b := newTestBroker(t, fs, fk)

	var alerts []string
	b.SetOnSessionMessage(func(sessionID, line string, payload []byte) {
		alerts = append(alerts, line)
	})

	require.NoError(t, b.startLoading(context.Background(), LoadOptions{}))
	assert.Equal(t, StateLive, b.State())
	require.NotEmpty(t, fk.sent)
	assert.Contains(t, fk.sent[0], "load url=")

	// Storage reports a newer modification: broker should flag a conflict.
	fs.info.LastModifiedTime = fs.info.LastModifiedTime.Add(time.Minute)
	b.addSession(session.New("s1", "doc-1", session.PublicURI{}, session.Permissions{}))
	require.NoError(t, b.loadIntoJail(context.Background(), b.jailID, LoadOptions{}))
	assert.True(t, b.documentChangedInStorage)
	assert.Contains(t, alerts, "close: documentconflict")
}

func TestHandleTileRequest_CacheHitDeliversImmediately(t *testing.T) {
	b := newTestBroker(t, &fakeStorage{}, newFakeKit())
	sess := session.New("s1", "doc-1", session.PublicURI{}, session.Permissions{})
	b.addSession(sess)

	var delivered string
	var payload []byte
	b.SetOnSessionMessage(func(sessionID, line string, p []byte) {
		delivered = line
		payload = p
	})

	desc, err := parseTestDesc("nviewid=0 part=0 width=256 height=256 tileposx=0 tileposy=0 tilewidth=3840 tileheight=3840")
	require.NoError(t, err)

	b.cache.SaveTileAndNotify(desc, []byte("PNGDATA"), func(sub *session.Session, d tiledesc.TileDesc, bytes []byte, cached bool) {
		b.deliverTile(sub, d, bytes, cached)
	})
	b.handleTileRequest(desc, sess)

	assert.Contains(t, delivered, "tile:")
	assert.Equal(t, []byte("PNGDATA"), payload)
}

func TestCancelTileRequests_ForwardsCancelMessage(t *testing.T) {
	fk := newFakeKit()
	b := newTestBroker(t, &fakeStorage{}, fk)
	b.kitProc = fk
	sess := session.New("s1", "doc-1", session.PublicURI{}, session.Permissions{})
	b.addSession(sess)

	desc, err := parseTestDesc("nviewid=0 part=0 width=256 height=256 tileposx=0 tileposy=0 tilewidth=3840 tileheight=3840")
	require.NoError(t, err)

	b.cache.SubscribeToTileRendering(desc, sess, time.Now(), tileRenderReissueTimeout)
	b.cancelTileRequests(sess)

	// desc carries no ver= field, so the cancelled render's version is -1.
	assert.Contains(t, fk.sent, "canceltiles -1")
}

func TestSendUnoSave_BuildsArgsJSON(t *testing.T) {
	fk := newFakeKit()
	b := newTestBroker(t, &fakeStorage{}, fk)
	b.kitProc = fk
	sess := session.New("s1", "doc-1", session.PublicURI{}, session.Permissions{})
	b.addSession(sess)

	sent := b.sendUnoSave("s1", true, true)
	assert.True(t, sent)
	require.Len(t, fk.sent, 1)
	assert.Contains(t, fk.sent[0], "DontTerminateEdit")
	assert.Contains(t, fk.sent[0], "DontSaveIfUnmodified")
}

func TestOnUploadOutcome_SuccessClearsModifiedFlag(t *testing.T) {
	b := newTestBroker(t, &fakeStorage{}, newFakeKit())
	b.modified = true

	b.onUploadOutcome("s1", storage.UploadOutcome{Kind: storage.UploadOk, NewModifiedTime: time.Now().UTC().Format(time.RFC3339)}, time.Millisecond)
	assert.False(t, b.modified)
	assert.False(t, b.documentChangedInStorage)
}

func TestOnUploadOutcome_RepeatedFailureFlagsDataLoss(t *testing.T) {
	b := newTestBroker(t, &fakeStorage{}, newFakeKit())
	b.deps.DocCfg.LimitStoreFailures = 2

	b.onUploadOutcome("s1", storage.UploadOutcome{Kind: storage.UploadFailed}, time.Millisecond)
	assert.False(t, b.dataLossOnUnload)
	b.onUploadOutcome("s1", storage.UploadOutcome{Kind: storage.UploadFailed}, time.Millisecond)
	assert.True(t, b.dataLossOnUnload)
}

// TestLoadIntoJail_RejectedLockNeverReportsLocked guards against the lock
// context reporting a hold that was never actually granted: a storage
// host that rejects the Lock call must leave IsLocked false, even though
// a token was generated up front to carry in the request header.
func TestLoadIntoJail_RejectedLockNeverReportsLocked(t *testing.T) {
	fs := &fakeStorage{
		info:       storage.FileInfo{BaseFileName: "doc.odt", SupportsLocks: true},
		lockResult: storage.LockResult{Kind: storage.LockUnauthorized},
	}
	fk := newFakeKit()
	b := newTestBroker(t, fs, fk)
	b.kitProc = fk
	b.jailID = "doc-1"

	require.NoError(t, b.loadIntoJail(context.Background(), b.jailID, LoadOptions{}))

	assert.False(t, b.lock.IsLocked, "a rejected lock must never be reported as held")
	assert.NotEmpty(t, b.lock.LockToken, "a token must still be generated up front for the request header")
}

// TestLoadIntoJail_GrantedLockReportsLocked is the success-path
// counterpart, so the lock-failure test above isn't the only case
// exercising loadIntoJail's lock branch.
func TestLoadIntoJail_GrantedLockReportsLocked(t *testing.T) {
	fs := &fakeStorage{
		info:       storage.FileInfo{BaseFileName: "doc.odt", SupportsLocks: true},
		lockResult: storage.LockResult{Kind: storage.LockOk},
	}
	fk := newFakeKit()
	b := newTestBroker(t, fs, fk)
	b.kitProc = fk
	b.jailID = "doc-1"

	require.NoError(t, b.loadIntoJail(context.Background(), b.jailID, LoadOptions{}))

	assert.True(t, b.lock.IsLocked)
	assert.NotEmpty(t, b.lock.LockToken)
}

// TestCheckExit_WaitDisconnectSessionBlocksShutdown reproduces the
// scenario spec.md's "last session leaving" / clipboard-capture design
// depends on: a session parked in WaitDisconnect must not let a close
// request tear the broker down before the linger window ends.
func TestCheckExit_WaitDisconnectSessionBlocksShutdown(t *testing.T) {
	fk := newFakeKit()
	b := newTestBroker(t, &fakeStorage{}, fk)
	b.kitProc = fk
	b.state = StateLive

	sess := session.New("s1", "doc-1", session.PublicURI{}, session.Permissions{})
	b.addSession(sess)
	sess.Disconnect(time.Now())
	b.markToDestroy = true

	exited := b.checkExit(context.Background())
	assert.False(t, exited, "a lingering WaitDisconnect session must block shutdown")
	assert.Equal(t, StateLive, b.State())
	assert.False(t, fk.terminated)
}

// TestCheckExit_EmptySessionsWithMarkToDestroyShutsDown is the
// counterpart: once the session list is actually empty, checkExit must
// proceed.
func TestCheckExit_EmptySessionsWithMarkToDestroyShutsDown(t *testing.T) {
	fk := newFakeKit()
	b := newTestBroker(t, &fakeStorage{}, fk)
	b.kitProc = fk
	b.state = StateLive
	b.markToDestroy = true

	exited := b.checkExit(context.Background())
	assert.True(t, exited)
	assert.Equal(t, StateDestroyed, b.State())
	assert.True(t, fk.terminated)
}

// TestSweepWaitDisconnect_HardRemoveOfLastSessionTriggersClose verifies
// the fix routing a close request through sweepWaitDisconnect's wasLast
// signal instead of DetachSession's writableSession() check: only once
// the lingering session is actually hard-removed does markToDestroy get
// set, and only then does the next checkExit tear the broker down.
func TestSweepWaitDisconnect_HardRemoveOfLastSessionTriggersClose(t *testing.T) {
	fk := newFakeKit()
	b := newTestBroker(t, &fakeStorage{}, fk)
	b.kitProc = fk
	b.state = StateLive

	sess := session.New("s1", "doc-1", session.PublicURI{}, session.Permissions{})
	b.addSession(sess)
	past := time.Now().Add(-session.WaitDisconnectTimeout - time.Second)
	sess.Disconnect(past)

	assert.False(t, b.markToDestroy)
	b.sweepWaitDisconnect(time.Now())

	assert.Equal(t, 0, b.SessionCount())
	assert.True(t, b.markToDestroy)

	exited := b.checkExit(context.Background())
	assert.True(t, exited)
	assert.Equal(t, StateDestroyed, b.State())
}

// TestDetachSession_DoesNotRequestCloseOnlyBecauseNoWritableSessionRemains
// guards the specific bug: disconnecting the last writable session while
// a readonly session is still live must not mark the broker to destroy.
func TestDetachSession_DoesNotRequestCloseOnlyBecauseNoWritableSessionRemains(t *testing.T) {
	fk := newFakeKit()
	b := newTestBroker(t, &fakeStorage{}, fk)
	b.kitProc = fk
	b.state = StateLive

	writer := session.New("writer", "doc-1", session.PublicURI{}, session.Permissions{})
	writer.Attach()
	writer.MarkLive(1, true, 0)
	b.addSession(writer)

	ro := session.New("ro", "doc-1", session.PublicURI{}, session.Permissions{ReadOnly: true})
	ro.Attach()
	ro.MarkLive(2, true, 0)
	b.addSession(ro)

	b.DetachSession(writer.ID)
	b.drainCallbacks()
	assert.Contains(t, fk.sent, "child-writer getclipboard")
	assert.Contains(t, fk.sent, "child-writer disconnect")

	assert.False(t, b.markToDestroy, "a surviving readonly session must keep the broker open")
}

// TestShutdown_WaitsForPendingSaveBeforeTerminating exercises the
// shutdown-outrunning-the-save fix: shutdown must not terminate the kit
// while a forced autosave is still awaiting the kit's acknowledgement.
func TestShutdown_WaitsForPendingSaveBeforeTerminating(t *testing.T) {
	fs := &fakeStorage{}
	fk := newFakeKit()
	b := newTestBroker(t, fs, fk)
	b.kitProc = fk
	b.state = StateLive
	b.modified = true

	owner := session.New("owner", "doc-1", session.PublicURI{}, session.Permissions{})
	owner.Attach()
	owner.MarkLive(1, true, 0)
	owner.IsDocumentOwner = true
	b.addSession(owner)

	go func() {
		time.Sleep(10 * time.Millisecond)
		fk.output <- kit.Frame{Line: "unocommandresult: commandname=.uno:Save success=true"}
	}()

	b.shutdown(context.Background())

	assert.True(t, fk.terminated)
	assert.False(t, b.awaitingSaveAck)
	assert.False(t, b.saveInFlight)
	require.Len(t, fs.uploads, 1, "the save's completion should have triggered exactly one upload")
}

// TestWaitForPendingSave_TimesOutIfSaveNeverAcknowledged guards the bound
// on waitForPendingSave itself (exercised with a short timeout so the
// test doesn't need to wait out the real 30s shutdownSaveTimeout): it
// must return once its deadline elapses even if the kit never answers,
// rather than blocking forever.
func TestWaitForPendingSave_TimesOutIfSaveNeverAcknowledged(t *testing.T) {
	fk := newFakeKit()
	b := newTestBroker(t, &fakeStorage{}, fk)
	b.kitProc = fk
	b.awaitingSaveAck = true

	done := make(chan struct{})
	go func() {
		b.waitForPendingSave(context.Background(), 20*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForPendingSave did not return after its deadline elapsed")
	}
	assert.True(t, b.awaitingSaveAck, "timing out must not falsely clear the pending-save flag")
}
