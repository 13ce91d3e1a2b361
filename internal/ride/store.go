package ride

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// Store defines persistence operations for rides. Claim and transition are
// conditional updates: they commit only when the ride is still in the expected
// prior status, which is what serializes racing drivers.
type Store interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// ClaimPending assigns the driver and trip estimate iff the ride is still
	// pending. The bool reports whether the claim committed; a missing ride is
	// ErrRideNotFound.
	ClaimPending(ctx context.Context, id, driverID string, trip models.TripEstimate, now time.Time) (*models.Ride, bool, error)

	// TransitionStatus moves from->to iff the ride currently has status from.
	TransitionStatus(ctx context.Context, id string, from, to models.RideStatus, now time.Time) (*models.Ride, bool, error)

	// History queries return terminal rides only, newest first.
	ListRiderRides(ctx context.Context, riderID string) ([]*models.Ride, error)
	ListDriverRides(ctx context.Context, driverID string) ([]*models.Ride, error)
}

// MemoryStore keeps rides in a mutex-guarded map. Conditional updates run
// under the lock, so it honors the same claim semantics as the SQL store.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrRideNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ClaimPending(ctx context.Context, id, driverID string, trip models.TripEstimate, now time.Time) (*models.Ride, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, false, ErrRideNotFound
	}
	if r.Status != models.StatusPending {
		cp := *r
		return &cp, false, nil
	}
	r.Status = models.StatusAccepted
	r.DriverID = driverID
	r.DurationMin = trip.DurationMin
	r.DurationText = trip.DurationText
	r.DistanceKm = trip.DistanceKm
	r.UpdatedAt = now
	cp := *r
	return &cp, true, nil
}

func (m *MemoryStore) TransitionStatus(ctx context.Context, id string, from, to models.RideStatus, now time.Time) (*models.Ride, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, false, ErrRideNotFound
	}
	if r.Status != from {
		cp := *r
		return &cp, false, nil
	}
	r.Status = to
	r.UpdatedAt = now
	cp := *r
	return &cp, true, nil
}

func (m *MemoryStore) ListRiderRides(ctx context.Context, riderID string) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history(func(r *models.Ride) bool { return r.RiderID == riderID }), nil
}

func (m *MemoryStore) ListDriverRides(ctx context.Context, driverID string) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history(func(r *models.Ride) bool { return r.DriverID == driverID }), nil
}

func (m *MemoryStore) history(match func(*models.Ride) bool) []*models.Ride {
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if !r.Status.Terminal() || !match(r) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
