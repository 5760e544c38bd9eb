package broker

import (
	"context"
	"time"

	"github.com/officekit/wsdbroker/internal/logger"
	"github.com/officekit/wsdbroker/pkg/kit"
)

// Periodic check intervals, per spec.md §5's poll-loop design notes: the
// loop never sleeps longer than pollInterval, so every check below fires
// within one tick of its nominal due time.
const (
	pollInterval         = time.Second
	clipboardRotateEvery = 5 * time.Minute
	lockRefreshInterval  = 15 * time.Minute
	onFlyTileRoundTrip   = 30 * time.Second

	// shutdownSaveTimeout bounds how long shutdown blocks waiting for a
	// final forced save (kit round trip plus any upload it triggers) to
	// finish before terminating the kit anyway, per spec.md §5's ~30s
	// command-timeout figure for the stuck-save/data-loss handling.
	shutdownSaveTimeout = 30 * time.Second
)

// Run drives the broker's single-threaded poll loop until Stop is called
// or ctx is cancelled: draining kit output, running queued callbacks,
// pumping each session's tile queue, and firing the periodic checks
// (autosave, WaitDisconnect sweep, clipboard rotation, lock refresh). No
// broker state outside this method's call graph may be touched by any
// other goroutine.
func (b *DocumentBroker) Run(ctx context.Context, opts LoadOptions) {
	defer close(b.done)

	if err := b.startLoading(ctx, opts); err != nil {
		return
	}

	lastClipboardRotate := time.Now()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown(ctx)
			return

		case fn := <-b.callbacks:
			fn()
			b.drainCallbacks()
			b.pumpTileQueues()
			if b.checkExit(ctx) {
				return
			}

		case frame, ok := <-b.kitOutput():
			if !ok {
				b.handleKitGone(ctx)
				return
			}
			b.dispatchKitFrame(ctx, frame)
			b.pumpTileQueues()
			if b.checkExit(ctx) {
				return
			}

		case <-b.wake:
			b.pumpTileQueues()
			if b.checkExit(ctx) {
				return
			}

		case now := <-ticker.C:
			b.maybeAutoSave(now, false)
			b.sweepWaitDisconnect(now)
			b.refreshLockIfNeeded(ctx, lockRefreshInterval)
			for _, sess := range b.sessions {
				sess.RemoveOutdatedOnFly(now, onFlyTileRoundTrip)
			}
			if now.Sub(lastClipboardRotate) >= clipboardRotateEvery {
				for _, sess := range b.sessions {
					sess.Rotate()
				}
				lastClipboardRotate = now
			}
			if b.checkExit(ctx) {
				return
			}
		}
	}
}

// kitOutput returns the kit's frame channel, or a nil channel (which
// blocks forever in a select) when no kit process has been assigned yet —
// this only happens if startLoading failed, in which case Run has already
// returned before reaching the select loop, so this is defensive.
func (b *DocumentBroker) kitOutput() <-chan kit.Frame {
	if b.kitProc == nil {
		return nil
	}
	return b.kitProc.Output()
}

// drainCallbacks runs every callback already queued without blocking,
// so a burst of admission requests delivered between two ticks is applied
// all at once rather than one per loop iteration.
func (b *DocumentBroker) drainCallbacks() {
	for {
		select {
		case fn := <-b.callbacks:
			fn()
		default:
			return
		}
	}
}

// sweepWaitDisconnect hard-removes any session that has sat in
// WaitDisconnect past its linger timeout without a kit acknowledgement.
// Removing the last session is what actually schedules the broker for
// destruction; DetachSession only starts sessions down this path, it
// never closes the broker itself.
func (b *DocumentBroker) sweepWaitDisconnect(now time.Time) {
	for id, sess := range b.sessions {
		if sess.ShouldHardRemove(now) {
			if b.removeSession(id) {
				b.requestClose("lastconnectionclosed")
			}
		}
	}
}

// checkExit begins destroying the broker once no sessions remain at all,
// reporting whether Run should return. A session lingering in
// WaitDisconnect still counts: markToDestroy alone must never short-
// circuit an exit while a session is still parked waiting for the kit's
// getclipboard response or its linger timeout, or the capture races the
// shutdown that's supposed to wait for it.
func (b *DocumentBroker) checkExit(ctx context.Context) bool {
	if len(b.sessions) > 0 {
		return false
	}
	if !b.markToDestroy {
		return false
	}
	if b.saveInFlight {
		return false
	}
	b.shutdown(ctx)
	return true
}

// shutdown flushes a final save, terminates the kit process, and signals
// removal from the registry.
func (b *DocumentBroker) shutdown(ctx context.Context) {
	if b.state == StateDestroyed {
		return
	}

	// The final save runs before the state leaves StateLive, since
	// maybeAutoSave issues nothing in any other state.
	if b.modified && b.kitProc != nil {
		if b.maybeAutoSave(time.Now(), true) {
			b.waitForPendingSave(ctx, shutdownSaveTimeout)
		}
	}
	b.state = StateDraining

	if b.kitProc != nil {
		if err := b.kitProc.Terminate(ctx, b.deps.KitCfg.TerminateGrace); err != nil {
			logger.Warn("kit terminate failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
		}
	}

	if b.lock.IsLocked {
		if _, err := b.deps.Storage.Lock(ctx, b.PublicURI, b.storageAuth, &b.lock, false); err != nil {
			logger.Warn("unlock on shutdown failed", logger.KeyDocKey, b.DocKey, logger.Err(err))
		}
	}

	b.state = StateDestroyed
	if b.deps.OnRemove != nil {
		b.deps.OnRemove(b.DocKey)
	}
}

// waitForPendingSave blocks shutdown's caller until the forced save just
// issued has been acknowledged by the kit and any upload it triggered has
// finished, or timeout elapses. It services the same two event sources the
// main Run loop does — kit frames and queued callbacks — since those are
// the only paths a save's completion can reach this goroutine through;
// anything else queued during the wait (a late client message, a tile
// request) runs too, since callbacks don't distinguish their origin.
func (b *DocumentBroker) waitForPendingSave(ctx context.Context, timeout time.Duration) {
	deadline := time.After(timeout)
	for b.awaitingSaveAck || b.saveInFlight {
		select {
		case frame, ok := <-b.kitOutput():
			if !ok {
				return
			}
			b.dispatchKitFrame(ctx, frame)
		case fn := <-b.callbacks:
			fn()
		case <-deadline:
			logger.Warn("shutdown save did not complete before timeout", logger.KeyDocKey, b.DocKey)
			return
		}
	}
}

// handleKitGone reacts to the kit's output channel closing, which means
// the reader goroutine observed the process exit unexpectedly: every
// session is told the document was force-unloaded, and the broker tears
// itself down.
func (b *DocumentBroker) handleKitGone(ctx context.Context) {
	logger.Error("kit process exited unexpectedly", logger.KeyDocKey, b.DocKey)
	b.broadcast("close: docdisconnected")
	b.shutdown(ctx)
}
