package ride

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-hailing/internal/models"
)

const rideColumns = `id, rider_id, rider_name, captain_id, pickup, destination,
	vehicle_class, fare, passcode, status, duration_min, duration_text,
	distance_km, created_at, updated_at`

// PostgresStore persists rides in PostgreSQL. Claims and transitions rely on
// conditional UPDATE ... WHERE status = <expected>, so the database serializes
// racing writers; no application-level lock is involved.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rides (`+rideColumns+`)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.RiderID, r.RiderName, r.DriverID, r.Pickup, r.Destination,
		string(r.VehicleClass), r.Fare, r.Passcode, string(r.Status),
		r.DurationMin, r.DurationText, r.DistanceKm, r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id)
	return scanRide(row)
}

func (p *PostgresStore) ClaimPending(ctx context.Context, id, driverID string, trip models.TripEstimate, now time.Time) (*models.Ride, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides
		SET status = $2, captain_id = $3, duration_min = $4, duration_text = $5,
		    distance_km = $6, updated_at = $7
		WHERE id = $1 AND status = $8
		RETURNING `+rideColumns,
		id, string(models.StatusAccepted), driverID,
		trip.DurationMin, trip.DurationText, trip.DistanceKm, now,
		string(models.StatusPending),
	)
	r, err := scanRide(row)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, ErrRideNotFound) {
		return nil, false, err
	}
	// Zero rows: either the ride does not exist or it already left pending.
	current, gerr := p.GetRide(ctx, id)
	if gerr != nil {
		return nil, false, gerr
	}
	return current, false, nil
}

func (p *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to models.RideStatus, now time.Time) (*models.Ride, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE rides SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+rideColumns,
		id, string(to), now, string(from),
	)
	r, err := scanRide(row)
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, ErrRideNotFound) {
		return nil, false, err
	}
	current, gerr := p.GetRide(ctx, id)
	if gerr != nil {
		return nil, false, gerr
	}
	return current, false, nil
}

func (p *PostgresStore) ListRiderRides(ctx context.Context, riderID string) ([]*models.Ride, error) {
	return p.listTerminal(ctx, `rider_id = $1`, riderID)
}

func (p *PostgresStore) ListDriverRides(ctx context.Context, driverID string) ([]*models.Ride, error) {
	return p.listTerminal(ctx, `captain_id = $1`, driverID)
}

func (p *PostgresStore) listTerminal(ctx context.Context, where, arg string) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE `+where+` AND status IN ('completed','cancelled')
		ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var driverID, durationText sql.NullString
	err := row.Scan(
		&r.ID, &r.RiderID, &r.RiderName, &driverID, &r.Pickup, &r.Destination,
		&r.VehicleClass, &r.Fare, &r.Passcode, &r.Status,
		&r.DurationMin, &durationText, &r.DistanceKm, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.DurationText = durationText.String
	return &r, nil
}
