package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OSRMClient performs route lookups against a self-hosted OSRM server. It only
// understands "lat,lng" origin/destination strings; deployments that take
// free-form addresses use the Google provider instead.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (o *OSRMClient) DistanceTime(ctx context.Context, origin, destination string) (Route, error) {
	oLat, oLng, err := parseLatLng(origin)
	if err != nil {
		return Route{}, err
	}
	dLat, dLng, err := parseLatLng(destination)
	if err != nil {
		return Route{}, err
	}

	// OSRM route query: /route/v1/driving/{lon1},{lat1};{lon2},{lat2}?overview=false
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false", o.Endpoint, oLng, oLat, dLng, dLat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()

	var out struct {
		Routes []struct {
			Duration float64 `json:"duration"`
			Distance float64 `json:"distance"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return Route{}, fmt.Errorf("%w: osrm code %q", ErrRouteUnavailable, out.Code)
	}

	r := Route{
		DistanceKm:  out.Routes[0].Distance / 1000,
		DurationSec: out.Routes[0].Duration,
	}
	r.DurationText = FormatDuration(r.Minutes())
	if err := r.validate(); err != nil {
		return Route{}, err
	}
	return r, nil
}

func parseLatLng(s string) (lat, lng float64, err error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q is not lat,lng", ErrRouteUnavailable, s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q is not lat,lng", ErrRouteUnavailable, s)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q is not lat,lng", ErrRouteUnavailable, s)
	}
	return lat, lng, nil
}
