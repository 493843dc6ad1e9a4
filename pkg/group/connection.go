package group

import (
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/pkg/coord"
)

// handleSessionState reacts to the store session lifecycle.
//
// Suspension and loss are handled on the calling goroutine: the cache is
// cleared and EventDisconnected fired without going through the queue,
// since the store's watches may already be gone. This is the only place
// the cache is mutated outside the worker.
func (g *Group) handleSessionState(state coord.SessionState) {
	g.logger.Info("session state changed", zap.Stringer("state", state))

	switch state {
	case coord.SessionSuspended, coord.SessionLost:
		g.connected.Store(false)
		if state == coord.SessionLost {
			// ephemeral nodes of the old session are gone with it
			g.creating.Store(false)
			g.unstable.Store(false)
			g.enqueue(forgetOp())
		}
		g.members.clear()
		g.fire(EventDisconnected)

	case coord.SessionConnected, coord.SessionReconnected:
		g.connected.Store(true)
		// ephemeral registrations do not survive a lost session: rebuild
		// the cache and publish the local state again
		g.enqueue(compositeOp(
			refreshOp(RefreshForce),
			updateOp(),
			eventOp(EventConnected),
		))
	}
}
