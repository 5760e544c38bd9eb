// Package broker implements the per-document broker: the object that owns
// one open document's kit process, tile cache, lock context, session map,
// and storage adapter, and drives all of it from a single poll-loop
// goroutine. No other goroutine mutates broker-owned state directly; cross-
// thread requests are delivered as closures through AddCallback.
package broker

import (
	"context"
	"net/url"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/config"
	"github.com/officekit/wsdbroker/pkg/kit"
	"github.com/officekit/wsdbroker/pkg/lockctx"
	"github.com/officekit/wsdbroker/pkg/procctx"
	"github.com/officekit/wsdbroker/pkg/session"
	"github.com/officekit/wsdbroker/pkg/storage"
	"github.com/officekit/wsdbroker/pkg/tilecache"
)

// State is the document broker's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateLoading
	StateLive
	StateDraining
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateDraining:
		return "draining"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// StorageClient is the subset of *storage.Adapter the broker depends on.
// Narrowed to an interface so tests can substitute a fake storage host.
type StorageClient interface {
	CheckFileInfo(ctx context.Context, uri string, auth storage.Auth) (storage.FileInfo, error)
	GetFile(ctx context.Context, uri string, auth storage.Auth, info storage.FileInfo, destPath string) error
	PutFile(ctx context.Context, req storage.PutFileRequest) (storage.UploadOutcome, error)
	AsyncPutFile(ctx context.Context, req storage.PutFileRequest, callback func(storage.UploadOutcome))
	Lock(ctx context.Context, uri string, auth storage.Auth, lockCtx *lockctx.Context, lock bool) (storage.LockResult, error)
}

// KitHandle is the subset of *kit.Process the broker depends on. Narrowed
// to an interface so tests can substitute a fake kit process.
type KitHandle interface {
	PID() int
	Output() <-chan kit.Frame
	Send(line string, payload []byte) error
	Terminate(ctx context.Context, grace time.Duration) error
}

// SpawnFunc starts a kit process. DefaultSpawn adapts kit.Spawn to this
// signature; tests pass a fake.
type SpawnFunc func(ctx context.Context, cfg config.KitConfig, jailID, docKey string) (KitHandle, error)

// DefaultSpawn adapts kit.Spawn to SpawnFunc, narrowing the process
// configuration down to the fields kit.Config needs.
func DefaultSpawn(ctx context.Context, cfg config.KitConfig, jailID, docKey string) (KitHandle, error) {
	return kit.Spawn(ctx, kit.Config{
		BinaryPath:     cfg.BinaryPath,
		ChildRoot:      cfg.ChildRoot,
		SpawnTimeout:   cfg.SpawnTimeout,
		TerminateGrace: cfg.TerminateGrace,
	}, jailID, docKey)
}

// DeriveDocKey derives a broker document key from a storage URI: the
// URL-encoded path only, deliberately dropping the host so that multiple
// host aliases pointing at the same storage backend share one broker.
func DeriveDocKey(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(u.Path), nil
}

// Deps bundles the collaborators a DocumentBroker needs, so construction
// doesn't require a dozen positional arguments.
type Deps struct {
	Storage        StorageClient
	ProcCtx        *procctx.Context
	Spawn          SpawnFunc
	KitCfg         config.KitConfig
	DocCfg         config.PerDocumentConfig
	WopiCfg        config.WopiConfig
	OnRemove       func(docKey string)
	Metrics        Metrics
	ClipboardStore ClipboardStore
}

// ClipboardStore is the subset of *clipboardstore.Store a broker needs:
// saving a disconnecting session's final clipboard content so a request
// arriving after the session is gone can still be served. Narrowed to an
// interface so tests can substitute a fake.
type ClipboardStore interface {
	Put(currentTag, previousTag, mimeType string, data []byte)
	Get(tag string) (mimeType string, data []byte, ok bool)
}

// DocumentBroker owns one open document end to end. Every field below is
// touched only from the poll-loop goroutine started by Start, except the
// callback/wake channels, which are safe to use from any goroutine.
type DocumentBroker struct {
	DocKey    string
	PublicURI string

	deps Deps

	state  State
	jailID string

	storageAuth storage.Auth
	fileInfo    storage.FileInfo
	lock        lockctx.Context

	documentLastModifiedTime time.Time
	documentChangedInStorage bool
	modified                 bool
	isRename                 bool
	storeFailureCount        int

	kitProc     KitHandle
	cache       *tilecache.Cache[session.Session]
	tileVersion int

	sessions map[string]*session.Session

	saveInFlight        bool
	awaitingSaveAck     bool
	lastSaveRequestTime time.Time
	lastUploadAttempt   time.Time
	lastActivityTime    time.Time

	markToDestroy bool
	stopRequested bool
	closeReason   string

	dataLossOnUnload bool

	// onSessionMessage receives every message the broker sends to a
	// session. Production wiring points this at the admission surface's
	// socket registry (pkg/wsdhttp); tests point it at a recorder. The
	// physical client socket is wsdhttp's concern, not the broker's.
	onSessionMessage sessionMessageFunc

	callbacks chan func()
	wake      chan struct{}
	done      chan struct{}
}

// sessionMessageFunc is the broker's hook for delivering a message to a
// named session's client socket.
type sessionMessageFunc func(sessionID, msg string, payload []byte)

// New constructs a broker in StateCreated. Start must be called to begin
// its poll loop.
func New(docKey, publicURI string, deps Deps) *DocumentBroker {
	now := time.Now()
	return &DocumentBroker{
		DocKey:              docKey,
		PublicURI:           publicURI,
		deps:                deps,
		state:               StateCreated,
		sessions:            make(map[string]*session.Session),
		cache:               tilecache.New[session.Session](1),
		lastActivityTime:    now,
		lastSaveRequestTime: now,
		callbacks:           make(chan func(), 64),
		wake:                make(chan struct{}, 1),
		done:                make(chan struct{}),
	}
}

// SetStorageAuth installs the credential used on every storage-host call.
// Must be called before Start; the registry sets this immediately after
// New, from the access_token/access_header query parameter on the
// document's public URI.
func (b *DocumentBroker) SetStorageAuth(auth storage.Auth) {
	b.storageAuth = auth
}

// State reports the broker's current lifecycle state. Safe to call from
// any goroutine; State is only ever advanced by the poll loop, and a stale
// read is relied on by callers (e.g. registry admission) only as a hint.
func (b *DocumentBroker) State() State { return b.state }

// SessionCount reports the number of attached sessions.
func (b *DocumentBroker) SessionCount() int { return len(b.sessions) }

// AddCallback enqueues fn to run on the poll-loop goroutine and wakes the
// loop. This is the only supported way for another goroutine (the HTTP
// admission surface, a kit reader, an admin sampler) to touch broker state.
func (b *DocumentBroker) AddCallback(fn func()) {
	select {
	case b.callbacks <- fn:
	case <-b.done:
		return
	}
	b.Wakeup()
}

// Wakeup nudges the poll loop out of its idle wait.
func (b *DocumentBroker) Wakeup() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the poll loop has fully exited.
func (b *DocumentBroker) Done() <-chan struct{} { return b.done }

// addSession attaches a freshly admitted session to the broker and
// recomputes the tile cache's high-water mark for the new session count.
// Must run on the poll loop.
func (b *DocumentBroker) addSession(sess *session.Session) {
	b.sessions[sess.ID] = sess
	sess.Attach()
	b.cache.RecomputeHighWaterMark(len(b.sessions))
	if b.deps.Metrics != nil {
		b.deps.Metrics.SetActiveSessions(b.DocKey, len(b.sessions))
	}
	logger.Info("session attached", logger.KeyDocKey, b.DocKey, logger.KeySessionID, sess.ID)
}

// removeSession detaches a session that has been hard-removed (WaitDisconnect
// timeout or kit acknowledgement) and reports whether it was the last
// session, which callers use to decide whether to begin destroying the
// broker. Must run on the poll loop.
func (b *DocumentBroker) removeSession(id string) (wasLast bool) {
	sess, ok := b.sessions[id]
	if !ok {
		return len(b.sessions) == 0
	}
	b.cache.CancelTiles(sess)
	delete(b.sessions, id)
	b.cache.RecomputeHighWaterMark(max(len(b.sessions), 1))
	if b.deps.Metrics != nil {
		b.deps.Metrics.SetActiveSessions(b.DocKey, len(b.sessions))
	}
	logger.Info("session removed", logger.KeyDocKey, b.DocKey, logger.KeySessionID, id)
	return len(b.sessions) == 0
}

// writableSession returns the session autoSave should issue the next
// .uno:Save through: the document owner if live and writable, else any
// live, non-readonly, non-WaitDisconnect session.
func (b *DocumentBroker) writableSession() *session.Session {
	var fallback *session.Session
	for _, sess := range b.sessions {
		if sess.Perms.ReadOnly || sess.State() != session.Live {
			continue
		}
		if sess.IsDocumentOwner {
			return sess
		}
		if fallback == nil {
			fallback = sess
		}
	}
	return fallback
}

// broadcast sends msg to every attached session, whatever its state.
func (b *DocumentBroker) broadcast(msg string) {
	for _, sess := range b.sessions {
		b.sendToSession(sess, msg, nil)
	}
}

// broadcastError is the alertAllUsers(cmd, kind) shorthand from spec.md §4.6.
func (b *DocumentBroker) broadcastError(cmd, kind string) {
	b.broadcast("error: cmd=" + cmd + " kind=" + kind)
}

// sendToSession delivers msg (plus an optional raw payload, e.g. tile
// bytes) to a single session's socket via the onSessionMessage hook, if one
// has been installed.
func (b *DocumentBroker) sendToSession(sess *session.Session, msg string, payload []byte) {
	if b.onSessionMessage != nil {
		b.onSessionMessage(sess.ID, msg, payload)
	}
}

// SetOnSessionMessage installs the delivery hook used by sendToSession and
// broadcast. Must be called before Start.
func (b *DocumentBroker) SetOnSessionMessage(fn func(sessionID, msg string, payload []byte)) {
	b.onSessionMessage = fn
}

// requestClose marks the broker for a graceful close with reason, to be
// acted on by the next poll tick's periodic checks.
func (b *DocumentBroker) requestClose(reason string) {
	b.closeReason = reason
	b.markToDestroy = true
	b.Wakeup()
}
