package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-hailing/internal/models"
)

// RedisLocations mirrors last-known captain positions into a Redis GEO set
// plus a per-captain metadata hash. It is fed by the telemetry consumer and
// serves ops/analytics lookups; the dispatcher's own registry stays
// authoritative for who receives broadcasts.
type RedisLocations struct {
	client *redis.Client
	key    string
}

func NewRedisLocations(addr, password, key string) *RedisLocations {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisLocations{client: c, key: key}
}

func NewRedisLocationsFromClient(c *redis.Client, key string) *RedisLocations {
	return &RedisLocations{client: c, key: key}
}

func (r *RedisLocations) Upsert(ctx context.Context, loc models.CaptainLocation) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Name:      loc.DriverID,
		Longitude: loc.Location.Lng,
		Latitude:  loc.Location.Lat,
	}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(loc.DriverID), map[string]interface{}{
		"vehicle_class": string(loc.VehicleClass),
		"recorded_at":   loc.RecordedAt.UTC().Format(time.RFC3339),
	}).Err()
}

// LastKnown returns the mirrored position for one captain, with ok=false when
// the captain has never reported a location.
func (r *RedisLocations) LastKnown(ctx context.Context, driverID string) (models.CaptainLocation, bool, error) {
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.CaptainLocation{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.CaptainLocation{}, false, nil
	}
	loc := models.CaptainLocation{
		DriverID: driverID,
		Location: models.Coord{Lat: pos[0].Latitude, Lng: pos[0].Longitude},
	}
	if m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result(); err == nil {
		loc.VehicleClass = models.VehicleClass(m["vehicle_class"])
		if ts, err := time.Parse(time.RFC3339, m["recorded_at"]); err == nil {
			loc.RecordedAt = ts
		}
	}
	return loc, true, nil
}

// NearbyIDs lists captains within radiusM meters of a point, closest first.
// Not part of the dispatch path (requests broadcast to every online driver);
// kept for ops tooling.
func (r *RedisLocations) NearbyIDs(ctx context.Context, center models.Coord, radiusM float64, limit int) ([]string, error) {
	res, err := r.client.GeoRadius(ctx, r.key, center.Lng, center.Lat, &redis.GeoRadiusQuery{
		Radius: radiusM,
		Unit:   "m",
		Count:  limit,
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(res))
	for _, g := range res {
		ids = append(ids, g.Name)
	}
	return ids, nil
}

func (r *RedisLocations) Close() error { return r.client.Close() }

func metaKey(id string) string { return "captain:meta:" + id }
