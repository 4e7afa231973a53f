package engine

import "log"

// Connect registers a live connection and returns its identity and outbound
// queue. The queue first carries a Session event, then a presence snapshot
// of every other user and a snapshot of live alerts. If the user already had
// a live connection, that older connection's queue is closed.
func (e *Engine) Connect(handle string, claim Claim) (Identity, <-chan Event) {
	id := identityFor(handle, claim)
	// Bind before the queue exists so a racing release of the old handle
	// never reaches it.
	if old, ok := e.conns.Bind(id); ok {
		e.hub.Unregister(old)
		log.Printf("[engine] connection superseded user=%s old=%s new=%s", id.UserID, old, handle)
	}
	queue := e.hub.Register(handle, Session{Identity: id})

	others := make([]PresenceRecord, 0)
	for _, rec := range e.presence.SnapshotAll() {
		if rec.UserID != id.UserID {
			others = append(others, rec)
		}
	}
	_ = e.hub.SendTo(handle, PresenceSnapshot{Records: others})
	e.sendAlertSnapshot(handle)
	log.Printf("[engine] connected user=%s handle=%s anonymous=%t", id.UserID, handle, id.Anonymous)
	return id, queue
}

// sendAlertSnapshot queues the live alerts under alertMu, so no alert
// mutation broadcast can reach handle ahead of a snapshot that predates it.
func (e *Engine) sendAlertSnapshot(handle string) {
	e.alertMu.Lock()
	defer e.alertMu.Unlock()
	_ = e.hub.SendTo(handle, AlertSnapshot{Alerts: e.alerts.SnapshotActive(e.now())})
}

// Disconnect stops delivery to handle, drops the user's presence and tells
// everyone else the user went offline. It reports whether this call did the
// release; repeated or superseded disconnects are no-ops.
func (e *Engine) Disconnect(handle string) bool {
	e.hub.Unregister(handle)
	released := e.conns.Release(handle, func(id Identity) {
		e.presence.Remove(id.UserID)
		e.hub.BroadcastToOthers(handle, PresenceOffline{UserID: id.UserID})
		log.Printf("[engine] disconnected user=%s handle=%s", id.UserID, handle)
	})
	return released
}

// Lookup returns the identity bound to a live handle.
func (e *Engine) Lookup(handle string) (Identity, bool) {
	return e.conns.Lookup(handle)
}

// Reply sends an event to one connection only.
func (e *Engine) Reply(handle string, ev Event) error {
	return e.hub.SendTo(handle, ev)
}

// Observe registers a receive-only queue that gets the presence and alert
// snapshots followed by every broadcast. Observers have no identity, never
// appear in presence and are not announced when they leave.
func (e *Engine) Observe(handle string) <-chan Event {
	queue := e.hub.Register(handle)
	_ = e.hub.SendTo(handle, PresenceSnapshot{Records: e.presence.SnapshotAll()})
	e.sendAlertSnapshot(handle)
	log.Printf("[engine] observer attached handle=%s", handle)
	return queue
}

// Unobserve detaches an observer queue.
func (e *Engine) Unobserve(handle string) {
	if e.hub.Unregister(handle) {
		log.Printf("[engine] observer detached handle=%s", handle)
	}
}
