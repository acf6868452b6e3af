// README: Position value types and the device-level error codes reported by browsers and apps.
package position

import (
	"time"

	"trail/internal/apperr"
	"trail/internal/types"
)

type Source string

const (
	SourceGPS    Source = "gps"
	SourceManual Source = "manual"
)

// Position is a user position reading. A new reading supersedes the previous
// one; a Position is never mutated after it has been published.
type Position struct {
	types.Point
	Source     Source    `json:"source"`
	CapturedAt time.Time `json:"captured_at"`
}

// Reading is a raw fix delivered by a Device.
type Reading struct {
	Point      types.Point
	CapturedAt time.Time
}

// Error codes mirror the W3C geolocation PositionError codes.
const (
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodePositionUnavailable = "POSITION_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
)

var (
	ErrPermissionDenied    = apperr.E(apperr.KindPermission, "position", "location permission denied", nil)
	ErrPositionUnavailable = apperr.E(apperr.KindTransient, "position", "position unavailable", nil)
	ErrTimeout             = apperr.E(apperr.KindTransient, "position", "position request timed out", nil)
)

// ErrorFromCode maps a device error code to its sentinel error.
func ErrorFromCode(code string) (error, bool) {
	switch code {
	case CodePermissionDenied:
		return ErrPermissionDenied, true
	case CodePositionUnavailable:
		return ErrPositionUnavailable, true
	case CodeTimeout:
		return ErrTimeout, true
	}
	return nil, false
}

// Status summarises the provider state for the UI layer.
type Status struct {
	Denied    bool      `json:"denied"`
	Manual    bool      `json:"manual"`
	LastError string    `json:"last_error,omitempty"`
	Position  *Position `json:"position,omitempty"`
}
