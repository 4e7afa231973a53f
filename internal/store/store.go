// Package store keeps a durable SQLite copy of alerts so that live hazards
// and report quotas survive a restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"roadwatch/internal/engine"
	"roadwatch/internal/geo"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id            TEXT PRIMARY KEY,
	reporter_id   TEXT    NOT NULL,
	quota_key     TEXT    NOT NULL DEFAULT '',
	latitude      REAL    NOT NULL,
	longitude     REAL    NOT NULL,
	report_type   TEXT    NOT NULL,
	description   TEXT    NOT NULL DEFAULT '',
	confirmations INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	expired_at    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_alerts_live ON alerts (expired_at, expires_at);
CREATE INDEX IF NOT EXISTS idx_alerts_reporter ON alerts (reporter_id, created_at);
`

// Store is a SQLite-backed engine.Archive.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[store] database ready path=%s", path)
	return &Store{db: db}, nil
}

// migrate adds columns introduced after the first schema to existing files.
func migrate(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(alerts);`)
	if err != nil {
		return fmt.Errorf("describe alerts: %w", err)
	}
	present := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scan alerts pragma: %w", err)
		}
		present[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate alerts pragma: %w", err)
	}

	if !present["quota_key"] {
		if _, err := db.ExecContext(ctx, `ALTER TABLE alerts ADD COLUMN quota_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add quota_key: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_alerts_quota ON alerts (quota_key, created_at)`); err != nil {
		return fmt.Errorf("index quota_key: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAlert inserts or refreshes an alert row. Count and expiry only ever
// grow, so saves that arrive out of order cannot roll a row back.
func (s *Store) SaveAlert(ctx context.Context, rec engine.AlertRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (id, reporter_id, quota_key, latitude, longitude, report_type, description, confirmations, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	confirmations = MAX(alerts.confirmations, excluded.confirmations),
	expires_at    = MAX(alerts.expires_at, excluded.expires_at)`,
		rec.ID, rec.ReporterID, rec.QuotaKey, rec.Lat, rec.Lng, string(rec.Category), rec.Description,
		rec.Confirmations, rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save alert %s: %w", rec.ID, err)
	}
	return nil
}

// MarkExpired records when an alert was evicted. Unknown ids are ignored.
func (s *Store) MarkExpired(ctx context.Context, alertID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET expired_at = ? WHERE id = ? AND expired_at IS NULL`,
		at.UnixMilli(), alertID)
	if err != nil {
		return fmt.Errorf("mark alert %s expired: %w", alertID, err)
	}
	return nil
}

// LoadActive returns alerts that were never evicted and are still live at now.
func (s *Store) LoadActive(ctx context.Context, now time.Time) ([]engine.AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, reporter_id, quota_key, latitude, longitude, report_type, description, confirmations, created_at, expires_at
FROM alerts
WHERE expired_at IS NULL AND expires_at > ?
ORDER BY created_at`, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}
	defer rows.Close()

	var out []engine.AlertRecord
	for rows.Next() {
		var (
			rec              engine.AlertRecord
			lat, lng         float64
			kind             string
			created, expires int64
		)
		if err := rows.Scan(&rec.ID, &rec.ReporterID, &rec.QuotaKey, &lat, &lng, &kind, &rec.Description,
			&rec.Confirmations, &created, &expires); err != nil {
			return nil, err
		}
		rec.Point = geo.Point{Lat: lat, Lng: lng}
		if rec.QuotaKey == "" {
			rec.QuotaKey = rec.ReporterID
		}
		rec.Category = engine.Category(kind)
		rec.CreatedAt = time.UnixMilli(created).UTC()
		rec.ExpiresAt = time.UnixMilli(expires).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReportTimes returns, per quota key, the creation times of reports made at
// or after since. Used to rebuild rate-limit windows.
func (s *Store) ReportTimes(ctx context.Context, since time.Time) (map[string][]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(NULLIF(quota_key, ''), reporter_id), created_at FROM alerts WHERE created_at >= ? ORDER BY created_at`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load report times: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]time.Time)
	for rows.Next() {
		var (
			reporter string
			created  int64
		)
		if err := rows.Scan(&reporter, &created); err != nil {
			return nil, err
		}
		out[reporter] = append(out[reporter], time.UnixMilli(created).UTC())
	}
	return out, rows.Err()
}

// Recover loads what the engine needs to resume after a restart.
func (s *Store) Recover(ctx context.Context, now time.Time, window time.Duration) ([]engine.AlertRecord, map[string][]time.Time, error) {
	alerts, err := s.LoadActive(ctx, now)
	if err != nil {
		return nil, nil, err
	}
	reports, err := s.ReportTimes(ctx, now.Add(-window))
	if err != nil {
		return nil, nil, err
	}
	return alerts, reports, nil
}

// Purge deletes evicted rows older than before and returns how many went.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM alerts WHERE expired_at IS NOT NULL AND expired_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	return res.RowsAffected()
}

var _ engine.Archive = (*Store)(nil)
