package routing

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

// GoogleClient resolves routes through the Distance Matrix API with live
// traffic, matching what the rider-facing ETA expects.
type GoogleClient struct {
	c *maps.Client
}

func NewGoogleClient(apiKey string) (*GoogleClient, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("maps client: %w", err)
	}
	return &GoogleClient{c: c}, nil
}

func (g *GoogleClient) DistanceTime(ctx context.Context, origin, destination string) (Route, error) {
	resp, err := g.c.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:       []string{origin},
		Destinations:  []string{destination},
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
		TrafficModel:  maps.TrafficModelBestGuess,
	})
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return Route{}, fmt.Errorf("%w: empty matrix", ErrRouteUnavailable)
	}
	el := resp.Rows[0].Elements[0]
	if el.Status != "OK" {
		return Route{}, fmt.Errorf("%w: element status %s", ErrRouteUnavailable, el.Status)
	}

	dur := el.Duration
	if el.DurationInTraffic > 0 {
		dur = el.DurationInTraffic
	}
	r := Route{
		DistanceKm:  float64(el.Distance.Meters) / 1000,
		DurationSec: dur.Seconds(),
	}
	r.DurationText = FormatDuration(r.Minutes())
	if err := r.validate(); err != nil {
		return Route{}, err
	}
	return r, nil
}
