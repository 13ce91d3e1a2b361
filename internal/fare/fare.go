// Package fare computes fare quotes and rider-facing ETAs. The math is pure;
// distance and duration always come from the routing collaborator.
package fare

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/routing"
)

var ErrInvalidInput = errors.New("pickup and destination are required")

// Rate is the pricing triple for one vehicle class. Config data, not logic.
type Rate struct {
	BaseFare int64
	PerKm    int64
	MinFare  int64
}

// DefaultRates mirrors the production pricing table.
var DefaultRates = map[models.VehicleClass]Rate{
	models.VehicleAuto:       {BaseFare: 30, PerKm: 15, MinFare: 30},
	models.VehicleCar:        {BaseFare: 50, PerKm: 20, MinFare: 50},
	models.VehicleMotorcycle: {BaseFare: 20, PerKm: 12, MinFare: 20},
}

type Estimator struct {
	Routes routing.Client
	Rates  map[models.VehicleClass]Rate
}

func NewEstimator(routes routing.Client) *Estimator {
	return &Estimator{Routes: routes, Rates: DefaultRates}
}

// Fares quotes every vehicle class for the pickup->destination trip:
// max(base + distKm*perKm, min), rounded to the nearest integer unit.
func (e *Estimator) Fares(ctx context.Context, pickup, destination string) (map[models.VehicleClass]int64, error) {
	if strings.TrimSpace(pickup) == "" || strings.TrimSpace(destination) == "" {
		return nil, ErrInvalidInput
	}
	route, err := e.Routes.DistanceTime(ctx, pickup, destination)
	if err != nil {
		return nil, err
	}

	fares := make(map[models.VehicleClass]int64, len(e.Rates))
	for class, rate := range e.Rates {
		fares[class] = Quote(rate, route.DistanceKm)
	}
	return fares, nil
}

// Quote prices a single class for a known distance.
func Quote(rate Rate, distanceKm float64) int64 {
	f := float64(rate.BaseFare) + distanceKm*float64(rate.PerKm)
	f = math.Max(f, float64(rate.MinFare))
	return int64(math.Round(f))
}

// ETA is what ride-search screens render while a request is pending.
type ETA struct {
	Minutes  int    `json:"travelTime"`
	Label    string `json:"formattedTime"`
	Distance string `json:"distance"`
}

// EstimateETA resolves duration-in-traffic between two coordinates and formats
// it for display.
func (e *Estimator) EstimateETA(ctx context.Context, pickup, destination models.Coord) (ETA, error) {
	route, err := e.Routes.DistanceTime(ctx, pickup.LatLng(), destination.LatLng())
	if err != nil {
		return ETA{}, err
	}
	minutes := route.Minutes()
	return ETA{
		Minutes:  minutes,
		Label:    rideLabel(minutes),
		Distance: fmt.Sprintf("%.1f km", route.DistanceKm),
	}, nil
}

func rideLabel(minutes int) string {
	if minutes >= 60 {
		h, m := minutes/60, minutes%60
		if m == 0 {
			return fmt.Sprintf("%d hr ride", h)
		}
		return fmt.Sprintf("%d hr %d min ride", h, m)
	}
	return fmt.Sprintf("%d min ride", minutes)
}
