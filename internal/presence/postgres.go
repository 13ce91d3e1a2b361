package presence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-hailing/internal/models"
)

// PostgresSessionLog persists DriverSession rows. A partial unique index on
// (captain_id) WHERE is_active backs the at-most-one-active invariant at the
// storage layer as well (see migrations).
type PostgresSessionLog struct {
	db *sql.DB
}

func NewPostgresSessionLog(dsn string) (*PostgresSessionLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresSessionLog{db: db}, nil
}

func NewPostgresSessionLogFromDB(db *sql.DB) *PostgresSessionLog {
	return &PostgresSessionLog{db: db}
}

func (p *PostgresSessionLog) Close() error { return p.db.Close() }

func (p *PostgresSessionLog) OpenSession(ctx context.Context, driverID string, loginAt time.Time) (string, error) {
	id := newSessionID()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO captain_sessions (id, captain_id, login_time, is_active, duration_min, distance_km)
		VALUES ($1, $2, $3, TRUE, 0, 0)`,
		id, driverID, loginAt)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *PostgresSessionLog) ActiveSession(ctx context.Context, driverID string) (*models.DriverSession, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, captain_id, login_time, logout_time, is_active, duration_min, distance_km
		FROM captain_sessions
		WHERE captain_id = $1 AND is_active`, driverID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func (p *PostgresSessionLog) CloseSession(ctx context.Context, id string, logoutAt time.Time, durationMin int, distanceKm float64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE captain_sessions
		SET logout_time = $2, is_active = FALSE, duration_min = $3, distance_km = $4
		WHERE id = $1 AND is_active`,
		id, logoutAt, durationMin, distanceKm)
	return err
}

func (p *PostgresSessionLog) SessionsByDriver(ctx context.Context, driverID string) ([]*models.DriverSession, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, captain_id, login_time, logout_time, is_active, duration_min, distance_km
		FROM captain_sessions
		WHERE captain_id = $1
		ORDER BY login_time DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.DriverSession, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.DriverSession, error) {
	var s models.DriverSession
	var logout sql.NullTime
	if err := row.Scan(&s.ID, &s.DriverID, &s.LoginTime, &logout, &s.Active, &s.DurationMin, &s.DistanceKm); err != nil {
		return nil, err
	}
	if logout.Valid {
		t := logout.Time
		s.LogoutTime = &t
	}
	return &s, nil
}
