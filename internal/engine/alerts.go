package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"roadwatch/internal/geo"
	"roadwatch/pkg/realtime"
)

// AlertRegistry holds live alerts. Expired rows may linger until the next
// sweep but are never returned by reads or accepted by Confirm.
type AlertRegistry struct {
	rows           *realtime.Table[AlertRecord]
	ttl            realtime.TTL
	maxDescription int
	newID          func() string
}

// NewAlertRegistry creates an empty registry using ttl for decay.
func NewAlertRegistry(ttl realtime.TTL, maxDescription int) *AlertRegistry {
	return &AlertRegistry{
		rows:           realtime.NewTable[AlertRecord](),
		ttl:            ttl,
		maxDescription: maxDescription,
		newID:          func() string { return uuid.New().String() },
	}
}

// draft is a validated report ready for insertion.
type draft struct {
	reporterID  string
	quotaKey    string
	pos         geo.Point
	category    Category
	description string
}

// Validate checks a report without touching the registry.
func (a *AlertRegistry) Validate(reporterID string, r AlertReport) (draft, error) {
	pos, err := requirePoint(r.Latitude, r.Longitude)
	if err != nil {
		return draft{}, err
	}
	cat, err := ParseCategory(r.ReportType)
	if err != nil {
		return draft{}, err
	}
	desc := strings.TrimSpace(r.Description)
	if a.maxDescription > 0 && utf8.RuneCountInString(desc) > a.maxDescription {
		return draft{}, fmt.Errorf("%w: description longer than %d characters", ErrInvalidReport, a.maxDescription)
	}
	if strings.TrimSpace(reporterID) == "" {
		return draft{}, fmt.Errorf("%w: reporter is required", ErrInvalidReport)
	}
	return draft{reporterID: reporterID, quotaKey: reporterID, pos: pos, category: cat, description: desc}, nil
}

// Create validates and inserts a new alert with expiry now + Base.
func (a *AlertRegistry) Create(reporterID string, r AlertReport, now time.Time) (AlertRecord, error) {
	d, err := a.Validate(reporterID, r)
	if err != nil {
		return AlertRecord{}, err
	}
	return a.insert(d, now), nil
}

func (a *AlertRegistry) insert(d draft, now time.Time) AlertRecord {
	for {
		rec := AlertRecord{
			ID:          a.newID(),
			ReporterID:  d.reporterID,
			QuotaKey:    d.quotaKey,
			Point:       d.pos,
			Category:    d.category,
			Description: d.description,
			CreatedAt:   now,
			ExpiresAt:   a.ttl.Start(now),
		}
		if a.rows.Insert(rec.ID, rec) {
			return rec
		}
	}
}

// Confirm increments the confirmation count of a live alert and renews its
// expiry to now + Renew. The read-modify-write runs under the table lock, so
// concurrent confirmations are all counted and the expiry only moves forward.
func (a *AlertRegistry) Confirm(alertID string, now time.Time) (AlertRecord, error) {
	rec, err := a.rows.Update(alertID, func(r AlertRecord) (AlertRecord, error) {
		if realtime.Expired(r.ExpiresAt, now) {
			return r, ErrNotFound
		}
		r.Confirmations++
		r.ExpiresAt = a.ttl.Extend(r.ExpiresAt, now)
		return r, nil
	})
	if err != nil {
		return AlertRecord{}, fmt.Errorf("%w: %s", ErrNotFound, alertID)
	}
	return rec, nil
}

// Get returns a live alert.
func (a *AlertRegistry) Get(alertID string, now time.Time) (AlertRecord, bool) {
	rec, ok := a.rows.Get(alertID)
	if !ok || realtime.Expired(rec.ExpiresAt, now) {
		return AlertRecord{}, false
	}
	return rec, true
}

// ListActive returns live alerts inside area (nil means everywhere), newest first.
func (a *AlertRegistry) ListActive(area *geo.Area, now time.Time) []AlertRecord {
	out := a.rows.Snapshot(func(r AlertRecord) bool {
		return !realtime.Expired(r.ExpiresAt, now) && area.Contains(r.Point)
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// SnapshotActive returns every live alert.
func (a *AlertRegistry) SnapshotActive(now time.Time) []AlertRecord {
	return a.ListActive(nil, now)
}

// Evict removes every alert whose expiry is at or before now and returns them.
func (a *AlertRegistry) Evict(now time.Time) []AlertRecord {
	return a.rows.DeleteFunc(func(_ string, r AlertRecord) bool {
		return realtime.Expired(r.ExpiresAt, now)
	})
}

// Restore inserts a previously persisted alert if it is still live and its id is free.
func (a *AlertRegistry) Restore(rec AlertRecord, now time.Time) bool {
	if rec.ID == "" || realtime.Expired(rec.ExpiresAt, now) {
		return false
	}
	return a.rows.Insert(rec.ID, rec)
}

// Len returns the number of rows, including expired rows not yet swept.
func (a *AlertRegistry) Len() int {
	return a.rows.Len()
}
