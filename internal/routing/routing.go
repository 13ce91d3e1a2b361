// Package routing abstracts the external route/ETA provider. The rest of the
// system only sees the Client interface; every provider failure surfaces as
// ErrRouteUnavailable so callers can treat it as a retryable upstream outage.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var ErrRouteUnavailable = errors.New("route unavailable")

// Route is the resolved distance/duration between two points. Origin and
// destination are free-form: street addresses or "lat,lng" pairs, whichever
// the provider accepts.
type Route struct {
	DistanceKm   float64
	DurationSec  float64
	DurationText string
}

// Client is the routing collaborator consumed by the fare estimator and the
// ride service. Implementations must be safe for concurrent use.
type Client interface {
	DistanceTime(ctx context.Context, origin, destination string) (Route, error)
}

// Minutes returns the trip duration rounded up to whole minutes.
func (r Route) Minutes() int {
	return int(math.Ceil(r.DurationSec / 60))
}

// validate rejects routes the provider technically returned but that no fare
// or ETA can be built on.
func (r Route) validate() error {
	if math.IsNaN(r.DistanceKm) || math.IsInf(r.DistanceKm, 0) || r.DistanceKm <= 0 {
		return fmt.Errorf("%w: bad distance %v", ErrRouteUnavailable, r.DistanceKm)
	}
	if r.DurationSec < 0 {
		return fmt.Errorf("%w: negative duration", ErrRouteUnavailable)
	}
	return nil
}

// FormatDuration renders whole minutes the way ride clients display them:
// "M min", or "H hr M min" past the hour.
func FormatDuration(minutes int) string {
	if minutes >= 60 {
		h, m := minutes/60, minutes%60
		if m == 0 {
			return fmt.Sprintf("%d hr", h)
		}
		return fmt.Sprintf("%d hr %d min", h, m)
	}
	return fmt.Sprintf("%d min", minutes)
}
