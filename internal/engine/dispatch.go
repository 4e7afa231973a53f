package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"roadwatch/internal/geo"
)

// Dispatch applies an inbound intent from a live connection and replies to
// that connection only: Ack on success for stop/report/confirm, Failure
// with a code on any error. Location updates are not acknowledged.
func (e *Engine) Dispatch(handle string, in Intent) error {
	id, ok := e.conns.Lookup(handle)
	if !ok {
		return ErrConnectionGone
	}

	var (
		alertID string
		err     error
	)
	switch v := in.(type) {
	case LocationUpdate:
		_, err = e.UpdateLocation(id, v)
	case LocationStop:
		e.StopBroadcast(id)
	case AlertReport:
		var rec AlertRecord
		rec, err = e.report(id.UserID, id.QuotaKey, v)
		alertID = rec.ID
	case AlertConfirm:
		var rec AlertRecord
		rec, err = e.Confirm(v.AlertID)
		alertID = rec.ID
	default:
		err = fmt.Errorf("%w: unsupported intent %T", ErrInvalidReport, in)
	}

	if err != nil {
		_ = e.hub.SendTo(handle, Failure{Op: in.Op(), Code: Code(err), Message: err.Error()})
		return err
	}
	if _, quiet := in.(LocationUpdate); !quiet {
		_ = e.hub.SendTo(handle, Ack{Op: in.Op(), AlertID: alertID})
	}
	return nil
}

// UpdateLocation upserts the user's presence and pushes it to every other connection.
func (e *Engine) UpdateLocation(id Identity, u LocationUpdate) (PresenceRecord, error) {
	rec, err := e.presence.Upsert(id, u, e.now())
	if err != nil {
		return PresenceRecord{}, err
	}
	e.hub.BroadcastToOthers(id.Handle, PresenceUpdate{Record: rec})
	return rec, nil
}

// StopBroadcast removes the user's presence. Only the call that actually
// removed a record announces the user offline.
func (e *Engine) StopBroadcast(id Identity) bool {
	if !e.presence.Remove(id.UserID) {
		return false
	}
	e.hub.BroadcastToOthers(id.Handle, PresenceOffline{UserID: id.UserID})
	return true
}

// Report validates a hazard report, charges the reporter's quota and creates
// the alert. Invalid reports are rejected before any quota is consumed.
// Live connections and HTTP callers both come through here.
func (e *Engine) Report(reporterID string, r AlertReport) (AlertRecord, error) {
	return e.report(reporterID, reporterID, r)
}

// report charges quotaKey, which differs from reporterID only for anonymous
// peers.
func (e *Engine) report(reporterID, quotaKey string, r AlertReport) (AlertRecord, error) {
	d, err := e.alerts.Validate(reporterID, r)
	if err != nil {
		return AlertRecord{}, err
	}
	if quotaKey != "" {
		d.quotaKey = quotaKey
	}
	res, ok := e.limiter.Reserve(d.quotaKey)
	if !ok {
		log.Printf("[engine] report rejected reporter=%s reason=rate_limited", reporterID)
		return AlertRecord{}, fmt.Errorf("%w: at most %d reports per %s", ErrRateLimited, e.cfg.ReportLimit, e.cfg.ReportWindow)
	}
	committed := false
	defer func() {
		if !committed {
			res.Cancel()
		}
	}()

	e.alertMu.Lock()
	rec := e.alerts.insert(d, e.now())
	e.hub.BroadcastToAll(AlertNew{Alert: rec})
	e.alertMu.Unlock()
	committed = true

	log.Printf("[engine] alert created id=%s reporter=%s type=%s", rec.ID, reporterID, rec.Category)
	e.persist(rec)
	return rec, nil
}

// Confirm renews a live alert and pushes the updated record to everyone.
func (e *Engine) Confirm(alertID string) (AlertRecord, error) {
	e.alertMu.Lock()
	rec, err := e.alerts.Confirm(alertID, e.now())
	if err == nil {
		e.hub.BroadcastToAll(AlertConfirmed{Alert: rec})
	}
	e.alertMu.Unlock()
	if err != nil {
		return AlertRecord{}, err
	}
	log.Printf("[engine] alert confirmed id=%s confirmations=%d expires=%s", rec.ID, rec.Confirmations, rec.ExpiresAt.Format(time.RFC3339))
	e.persist(rec)
	return rec, nil
}

// ListActive returns live alerts, optionally limited to an area.
func (e *Engine) ListActive(area *geo.Area) []AlertRecord {
	return e.alerts.ListActive(area, e.now())
}

// Alert returns one live alert.
func (e *Engine) Alert(alertID string) (AlertRecord, error) {
	rec, ok := e.alerts.Get(alertID, e.now())
	if !ok {
		return AlertRecord{}, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}
	return rec, nil
}

// ListPresence returns current presence, optionally limited to an area.
func (e *Engine) ListPresence(area *geo.Area) []PresenceRecord {
	return e.presence.Snapshot(area)
}

// Remaining returns how many reports reporterID may still create in the current window.
func (e *Engine) Remaining(reporterID string) int {
	return e.limiter.Remaining(reporterID)
}

// Sweep evicts every alert whose expiry is at or before now and announces
// each eviction once. The sweeper calls it on every tick; tests may call it
// directly to step time.
func (e *Engine) Sweep(now time.Time) []string {
	e.alertMu.Lock()
	evicted := e.alerts.Evict(now)
	ids := make([]string, 0, len(evicted))
	for _, rec := range evicted {
		ids = append(ids, rec.ID)
		e.hub.BroadcastToAll(AlertExpired{AlertID: rec.ID})
	}
	e.alertMu.Unlock()

	if len(ids) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var errs []error
		for _, id := range ids {
			if err := e.archive.MarkExpired(ctx, id, now); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			log.Printf("[engine] archive expire failed count=%d err=%v", len(errs), err)
		}
		log.Printf("[engine] sweep evicted=%d", len(ids))
	}
	e.limiter.Prune()
	return ids
}
