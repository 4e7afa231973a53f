package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"roadwatch/internal/geo"
	"roadwatch/pkg/realtime"
)

// PresenceTable holds the last known motion state per user id.
type PresenceTable struct {
	rows *realtime.Table[PresenceRecord]
}

// NewPresenceTable creates an empty table.
func NewPresenceTable() *PresenceTable {
	return &PresenceTable{rows: realtime.NewTable[PresenceRecord]()}
}

// Upsert validates u and overwrites the record for id.UserID, stamping it with now.
func (p *PresenceTable) Upsert(id Identity, u LocationUpdate, now time.Time) (PresenceRecord, error) {
	pos, err := requirePoint(u.Latitude, u.Longitude)
	if err != nil {
		return PresenceRecord{}, err
	}
	if u.Heading != nil {
		if err := geo.ValidateHeading(*u.Heading); err != nil {
			return PresenceRecord{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
		}
	}
	if u.Speed != nil {
		if err := geo.ValidateSpeed(*u.Speed); err != nil {
			return PresenceRecord{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
		}
	}
	rec := PresenceRecord{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Avatar:      id.Avatar,
		Point:       pos,
		Heading:     copyFloat(u.Heading),
		Speed:       copyFloat(u.Speed),
		VehicleID:   strings.TrimSpace(u.VehicleID),
		UpdatedAt:   now,
	}
	p.rows.Put(id.UserID, rec)
	return rec, nil
}

// Remove drops the record for userID and reports whether one existed.
func (p *PresenceTable) Remove(userID string) bool {
	_, ok := p.rows.Delete(userID)
	return ok
}

// Get returns the record for userID.
func (p *PresenceTable) Get(userID string) (PresenceRecord, bool) {
	return p.rows.Get(userID)
}

// SnapshotAll returns a copy of every record, most recently updated first.
func (p *PresenceTable) SnapshotAll() []PresenceRecord {
	return p.Snapshot(nil)
}

// Snapshot returns a copy of every record inside area (nil means everywhere).
func (p *PresenceTable) Snapshot(area *geo.Area) []PresenceRecord {
	out := p.rows.Snapshot(func(r PresenceRecord) bool { return area.Contains(r.Point) })
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Len returns the number of users broadcasting.
func (p *PresenceTable) Len() int {
	return p.rows.Len()
}

func requirePoint(lat, lng *float64) (geo.Point, error) {
	if lat == nil || lng == nil {
		return geo.Point{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidLocation)
	}
	pos := geo.Point{Lat: *lat, Lng: *lng}
	if err := pos.Validate(); err != nil {
		return geo.Point{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	return pos, nil
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
