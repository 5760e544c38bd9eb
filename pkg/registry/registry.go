// Package registry tracks every live per-document broker, admitting the
// first session for a URI onto a freshly spawned broker and handing every
// later session the same broker until it tears itself down.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/broker"
	"github.com/officekit/wsdbroker/pkg/config"
	"github.com/officekit/wsdbroker/pkg/storage"
)

// Deps bundles the collaborators shared by every broker the registry
// creates: one storage adapter, one kit spawn function, and the static
// per-document/kit configuration loaded once at startup.
type Deps struct {
	Storage        broker.StorageClient
	Spawn          broker.SpawnFunc
	KitCfg         config.KitConfig
	DocCfg         config.PerDocumentConfig
	WopiCfg        config.WopiConfig
	Metrics        broker.Metrics
	ClipboardStore broker.ClipboardStore

	// OnSessionMessage is installed on every broker the registry creates;
	// pkg/wsdhttp wires this to its socket registry.
	OnSessionMessage func(docKey string) func(sessionID, msg string, payload []byte)
}

// Registry is a concurrency-safe map[docKey]*broker.DocumentBroker. Callers
// admit a session via GetOrCreate; a broker removes itself via its own
// OnRemove hook once its last session leaves and it finishes draining.
type Registry struct {
	mu       sync.RWMutex
	deps     Deps
	brokers  map[string]*broker.DocumentBroker
	draining bool
}

// NewRegistry constructs an empty registry over deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:    deps,
		brokers: make(map[string]*broker.DocumentBroker),
	}
}

// ErrDraining is returned by GetOrCreate once Drain has been called; no
// new brokers are admitted past that point.
var ErrDraining = fmt.Errorf("registry: shutting down, not admitting new documents")

// SetOnSessionMessage installs the delivery-hook factory used by every
// broker created after this call. Exists so the admission surface (which
// needs a *Registry to construct) and the registry (whose brokers need the
// admission surface's delivery hook) can be wired up in either order.
func (r *Registry) SetOnSessionMessage(fn func(docKey string) func(sessionID, msg string, payload []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps.OnSessionMessage = fn
}

// GetOrCreate returns the existing broker for uri's document key, or
// spawns a new one in StateCreated and starts its poll loop with opts.
// The docKey is derived from uri via broker.DeriveDocKey, so host aliases
// pointing at the same storage path share one broker.
func (r *Registry) GetOrCreate(ctx context.Context, uri string, opts broker.LoadOptions) (*broker.DocumentBroker, error) {
	docKey, err := broker.DeriveDocKey(uri)
	if err != nil {
		return nil, fmt.Errorf("registry: derive doc key: %w", err)
	}

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, ErrDraining
	}
	if existing, ok := r.brokers[docKey]; ok {
		r.mu.Unlock()
		return existing, nil
	}

	auth, err := parseAuth(uri)
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("registry: parse auth: %w", err)
	}

	b := broker.New(docKey, uri, broker.Deps{
		Storage:        r.deps.Storage,
		Spawn:          r.deps.Spawn,
		KitCfg:         r.deps.KitCfg,
		DocCfg:         r.deps.DocCfg,
		WopiCfg:        r.deps.WopiCfg,
		Metrics:        r.deps.Metrics,
		ClipboardStore: r.deps.ClipboardStore,
		OnRemove: r.remove,
	})
	b.SetStorageAuth(auth)
	if r.deps.OnSessionMessage != nil {
		b.SetOnSessionMessage(r.deps.OnSessionMessage(docKey))
	}
	r.brokers[docKey] = b
	r.mu.Unlock()

	go b.Run(ctx, opts)
	logger.Info("broker created", logger.KeyDocKey, docKey)
	return b, nil
}

// parseAuth extracts the WOPI-style credential from uri's query string,
// preferring access_token over access_header, per spec.md's admission rule.
func parseAuth(rawURI string) (storage.Auth, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return storage.Auth{}, err
	}
	q := u.Query()
	if tok := q.Get("access_token"); tok != "" {
		return storage.Auth{AccessToken: tok}, nil
	}
	return storage.Auth{AccessHeader: q.Get("access_header")}, nil
}

// remove deletes docKey from the registry. Installed as every broker's
// Deps.OnRemove, so it only ever runs once the broker has fully drained.
func (r *Registry) remove(docKey string) {
	r.mu.Lock()
	delete(r.brokers, docKey)
	r.mu.Unlock()
	logger.Info("broker removed", logger.KeyDocKey, docKey)
}

// Get returns the broker already registered for docKey, if any.
func (r *Registry) Get(docKey string) (*broker.DocumentBroker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brokers[docKey]
	return b, ok
}

// Count reports the number of brokers currently tracked.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.brokers)
}

// ListDocKeys returns every tracked document key. The returned slice is a
// copy and safe to modify.
func (r *Registry) ListDocKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.brokers))
	for k := range r.brokers {
		keys = append(keys, k)
	}
	return keys
}

// Drain marks the registry as shutting down (GetOrCreate starts returning
// ErrDraining) and requests every tracked broker close gracefully. It
// returns immediately; callers wait on each broker's Done channel to know
// when draining has actually finished.
func (r *Registry) Drain(reason string) {
	r.mu.Lock()
	r.draining = true
	brokers := make([]*broker.DocumentBroker, 0, len(r.brokers))
	for _, b := range r.brokers {
		brokers = append(brokers, b)
	}
	r.mu.Unlock()

	for _, b := range brokers {
		b.RequestClose(reason)
	}
}

// WaitDrained blocks until every broker tracked at the time of the call has
// signaled Done, or ctx is cancelled first.
func (r *Registry) WaitDrained(ctx context.Context) error {
	r.mu.RLock()
	dones := make([]<-chan struct{}, 0, len(r.brokers))
	for _, b := range r.brokers {
		dones = append(dones, b.Done())
	}
	r.mu.RUnlock()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
