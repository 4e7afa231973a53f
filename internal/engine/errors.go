package engine

import (
	"errors"

	"roadwatch/pkg/realtime"
)

var (
	ErrInvalidLocation = errors.New("invalid location")
	ErrInvalidReport   = errors.New("invalid report")
	ErrNotFound        = errors.New("alert not found")
	ErrRateLimited     = errors.New("report rate limit exceeded")
	// ErrConnectionGone is reported when an intent arrives on a handle the
	// registry no longer knows, e.g. after the connection was superseded.
	ErrConnectionGone = realtime.ErrConnectionGone
)

// Failure codes sent back to a caller over the socket.
const (
	CodeInvalidLocation = "invalid_location"
	CodeInvalidReport   = "invalid_report"
	CodeNotFound        = "not_found"
	CodeRateLimited     = "rate_limited"
	CodeBadRequest      = "bad_request"
	CodeGone            = "connection_gone"
	CodeInternal        = "internal"
)

// Code maps an engine error to its wire code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidLocation):
		return CodeInvalidLocation
	case errors.Is(err, ErrInvalidReport):
		return CodeInvalidReport
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrConnectionGone):
		return CodeGone
	default:
		return CodeInternal
	}
}
