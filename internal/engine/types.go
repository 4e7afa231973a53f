package engine

import (
	"fmt"
	"strings"
	"time"

	"roadwatch/internal/geo"
)

// Claim is the identity a connecting peer asserts. An empty UserID means
// the peer is anonymous.
type Claim struct {
	UserID      string
	DisplayName string
	Avatar      string
	// Address is the peer's network address. Anonymous peers are charged
	// report quota against it rather than against their per-connection id.
	Address string
}

// Identity binds one live connection to a user.
type Identity struct {
	Handle      string `json:"-"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatarUrl,omitempty"`
	Anonymous   bool   `json:"anonymous"`
	// QuotaKey is the rate limiter key reports from this connection are charged to.
	QuotaKey string `json:"-"`
}

const (
	anonymousPrefix = "anon-"
	addressPrefix   = "addr:"
)

func identityFor(handle string, c Claim) Identity {
	id := Identity{
		Handle:      handle,
		UserID:      strings.TrimSpace(c.UserID),
		DisplayName: strings.TrimSpace(c.DisplayName),
		Avatar:      strings.TrimSpace(c.Avatar),
	}
	id.QuotaKey = id.UserID
	if id.UserID == "" {
		id.UserID = anonymousPrefix + handle
		id.Anonymous = true
		id.QuotaKey = id.UserID
		if addr := strings.TrimSpace(c.Address); addr != "" {
			id.QuotaKey = addressPrefix + addr
		}
	}
	if id.DisplayName == "" {
		if id.Anonymous {
			id.DisplayName = "Anonymous driver"
		} else {
			id.DisplayName = id.UserID
		}
	}
	return id
}

// PresenceRecord is a user's most recent motion state.
type PresenceRecord struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatarUrl,omitempty"`
	geo.Point
	Heading   *float64  `json:"heading,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	VehicleID string    `json:"vehicleId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Category is the kind of hazard being reported.
type Category string

const (
	CategoryStationary Category = "STATIONARY"
	CategoryMobile     Category = "MOBILE"
	CategorySpeedTrap  Category = "SPEED_TRAP"
	CategoryCheckpoint Category = "CHECKPOINT"
	CategoryAccident   Category = "ACCIDENT"
)

// Categories lists every accepted report category.
func Categories() []Category {
	return []Category{
		CategoryStationary,
		CategoryMobile,
		CategorySpeedTrap,
		CategoryCheckpoint,
		CategoryAccident,
	}
}

// ParseCategory accepts the canonical names case-insensitively, with either
// '_' or '-' as separator ("speed-trap" and "SPEED_TRAP" are the same).
func ParseCategory(s string) (Category, error) {
	norm := Category(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	for _, c := range Categories() {
		if c == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown report type %q", ErrInvalidReport, s)
}

// AlertRecord is a crowd-sourced hazard report with a decaying lifetime.
type AlertRecord struct {
	ID         string `json:"id"`
	ReporterID string `json:"reporterId"`
	// QuotaKey is the rate limiter key the report was charged to.
	QuotaKey string `json:"-"`
	geo.Point
	Category      Category  `json:"reportType"`
	Description   string    `json:"description,omitempty"`
	Confirmations int       `json:"confirmations"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}
