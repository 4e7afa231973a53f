package realtime

import "time"

// TTL holds the decay policy for short-lived records: how long a record lives
// after creation, and how long it lives after each renewal. It does not hold
// record state; callers keep an expiry timestamp and ask TTL to move it.
type TTL struct {
	Base  time.Duration
	Renew time.Duration
}

// Default decay windows for crowd-sourced reports.
const (
	DefaultBaseTTL  = 30 * time.Minute
	DefaultRenewTTL = 40 * time.Minute
)

// Start returns the expiry for a record created at now.
func (t TTL) Start(now time.Time) time.Time {
	return now.Add(t.Base)
}

// Extend returns the expiry after a renewal at now. Renewal replaces the
// remaining time with Renew rather than adding to it, and never moves an
// expiry backwards: if current is already later it is kept.
func (t TTL) Extend(current, now time.Time) time.Time {
	next := now.Add(t.Renew)
	if next.After(current) {
		return next
	}
	return current
}

// Expired reports whether a record with the given expiry is dead at now.
// A record is dead from its expiry instant onwards.
func Expired(expiresAt, now time.Time) bool {
	return !now.Before(expiresAt)
}

// Remaining returns the time left before expiry, or zero once expired.
func Remaining(expiresAt, now time.Time) time.Duration {
	if Expired(expiresAt, now) {
		return 0
	}
	return expiresAt.Sub(now)
}
