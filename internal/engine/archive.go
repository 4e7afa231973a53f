package engine

import (
	"context"
	"time"
)

// Archive keeps a durable copy of alerts. The engine stays authoritative:
// archive failures are logged and never undo an in-memory change.
type Archive interface {
	SaveAlert(ctx context.Context, rec AlertRecord) error
	MarkExpired(ctx context.Context, alertID string, at time.Time) error
}

type nopArchive struct{}

func (nopArchive) SaveAlert(context.Context, AlertRecord) error         { return nil }
func (nopArchive) MarkExpired(context.Context, string, time.Time) error { return nil }
