// Package engine is the live presence and alert broadcast core. One Engine
// owns the connection registry, the presence table, the alert registry, the
// report rate limiter and the expiry sweeper; transports feed it intents and
// drain per-connection event queues.
package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"roadwatch/pkg/realtime"
)

// Config holds the tunable engine constants. ConfirmTTL may not be shorter
// than BaseTTL, which makes every confirmation set expiry to exactly
// now + ConfirmTTL.
type Config struct {
	BaseTTL        time.Duration
	ConfirmTTL     time.Duration
	SweepInterval  time.Duration
	ReportLimit    int
	ReportWindow   time.Duration
	MaxDescription int
	SendBuffer     int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BaseTTL:        realtime.DefaultBaseTTL,
		ConfirmTTL:     realtime.DefaultRenewTTL,
		SweepInterval:  time.Minute,
		ReportLimit:    5,
		ReportWindow:   time.Hour,
		MaxDescription: 280,
		SendBuffer:     realtime.DefaultBuffer,
	}
}

// Validate rejects non-positive settings.
func (c Config) Validate() error {
	switch {
	case c.BaseTTL <= 0:
		return errors.New("engine: base TTL must be positive")
	case c.ConfirmTTL <= 0:
		return errors.New("engine: confirm TTL must be positive")
	case c.ConfirmTTL < c.BaseTTL:
		return errors.New("engine: confirm TTL must not be shorter than base TTL")
	case c.SweepInterval <= 0:
		return errors.New("engine: sweep interval must be positive")
	case c.ReportLimit <= 0:
		return errors.New("engine: report limit must be positive")
	case c.ReportWindow <= 0:
		return errors.New("engine: report window must be positive")
	case c.MaxDescription < 0:
		return errors.New("engine: max description must not be negative")
	}
	return nil
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithArchive sets the durable alert store.
func WithArchive(a Archive) Option {
	return func(e *Engine) {
		if a != nil {
			e.archive = a
		}
	}
}

// Engine is the single owner of all live state.
type Engine struct {
	cfg      Config
	now      func() time.Time
	hub      *realtime.Hub[Event]
	conns    *Registry
	presence *PresenceTable
	alerts   *AlertRegistry
	limiter  *RateLimiter
	sweeper  *realtime.Loop
	archive  Archive

	// alertMu serialises alert mutations with their broadcasts so every peer
	// sees confirmations in count order and never a confirm after an expiry.
	alertMu sync.Mutex
}

// New builds an engine. Call Start to run the sweeper.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		archive:  nopArchive{},
		hub:      realtime.NewHub[Event](cfg.SendBuffer),
		conns:    NewRegistry(),
		presence: NewPresenceTable(),
		alerts: NewAlertRegistry(realtime.TTL{
			Base:  cfg.BaseTTL,
			Renew: cfg.ConfirmTTL,
		}, cfg.MaxDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.limiter = NewRateLimiter(cfg.ReportLimit, cfg.ReportWindow, e.now)
	e.sweeper = realtime.NewLoop("sweeper", cfg.SweepInterval, func(now time.Time) { e.Sweep(now) })
	e.sweeper.SetClock(e.now)
	return e, nil
}

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.cfg }

// Start runs the expiry sweeper until ctx ends or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.sweeper.Start(ctx)
}

// Stop halts the sweeper and closes every connection queue.
func (e *Engine) Stop() {
	e.sweeper.Stop()
	e.hub.CloseAll()
}

// WakeSweeper asks the running sweeper to scan now.
func (e *Engine) WakeSweeper() {
	e.sweeper.Wake()
}

// Stats is a point-in-time count of live state.
type Stats struct {
	Connections int   `json:"connections"`
	Observers   int   `json:"observers"`
	Presence    int   `json:"presence"`
	Alerts      int   `json:"alerts"`
	Dropped     int64 `json:"droppedEvents"`
}

// Stats returns current counts. Alerts counts only live alerts.
func (e *Engine) Stats() Stats {
	return Stats{
		Connections: e.conns.Len(),
		Observers:   max(e.hub.Len()-e.conns.Len(), 0),
		Presence:    e.presence.Len(),
		Alerts:      len(e.alerts.SnapshotActive(e.now())),
		Dropped:     e.hub.Dropped(),
	}
}

// Restore reloads persisted alerts and report history, typically at startup
// before any connection is accepted. It returns how many alerts were restored.
func (e *Engine) Restore(alerts []AlertRecord, reports map[string][]time.Time) int {
	now := e.now()
	restored := 0
	for _, rec := range alerts {
		if e.alerts.Restore(rec, now) {
			restored++
		}
	}
	for reporter, times := range reports {
		e.limiter.Seed(reporter, times)
	}
	log.Printf("[engine] restored alerts=%d reporters=%d", restored, len(reports))
	return restored
}

func (e *Engine) persist(rec AlertRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.archive.SaveAlert(ctx, rec); err != nil {
		log.Printf("[engine] archive save failed alert=%s err=%v", rec.ID, err)
	}
}
