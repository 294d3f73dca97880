// Package feeds fetches upstream realtime sources and normalizes them into
// RawTripUpdate values. Wire formats never leave this package: times are
// decoded to unix seconds here and nowhere else.
package feeds

import (
	"context"
	"errors"

	"tripcards.app/internal/models"
)

var (
	// ErrUpstreamUnavailable covers transport failures, timeouts and non-2xx responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrDecode means the upstream answered with a payload we could not read.
	ErrDecode = errors.New("decode error")
	// ErrAuth means credentials were rejected even after a forced re-authentication.
	ErrAuth = errors.New("auth failure")
)

// RawTripUpdate is one vehicle's reported progress, stripped of wire details.
type RawTripUpdate struct {
	TripID string
	// RouteID is empty when the feed never reports one (ferries).
	RouteID string
	// RouteAliases are other spellings of the route seen in the same payload.
	RouteAliases []string
	DirectionID  *int
	// Headsign is set only when the wire format carries a destination label.
	Headsign        string
	StopTimeUpdates []StopTimeUpdate
}

// StopTimeUpdate is one stop's expected arrival or departure in unix seconds.
type StopTimeUpdate struct {
	StopID        string
	Sequence      *int
	ArrivalTime   *int64
	DepartureTime *int64
	DelaySeconds  *int32
	Track         string
}

// BoardingTime prefers departure, the time a rider must be on the platform.
func (s StopTimeUpdate) BoardingTime() (int64, bool) {
	if s.DepartureTime != nil {
		return *s.DepartureTime, true
	}
	if s.ArrivalTime != nil {
		return *s.ArrivalTime, true
	}
	return 0, false
}

// AlightingTime prefers arrival.
func (s StopTimeUpdate) AlightingTime() (int64, bool) {
	if s.ArrivalTime != nil {
		return *s.ArrivalTime, true
	}
	if s.DepartureTime != nil {
		return *s.DepartureTime, true
	}
	return 0, false
}

// Adapter fetches the trip updates relevant to a query from one upstream family.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, q models.Query) ([]RawTripUpdate, error)
}

// AlertSource is the optional collaborator behind the alerts attached to a result.
type AlertSource interface {
	AlertsForRoute(ctx context.Context, mode models.Mode, routeID string) ([]models.Alert, error)
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }
