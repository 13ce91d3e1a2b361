package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// MemorySessionLog is the in-process SessionStore used for local runs and
// tests.
type MemorySessionLog struct {
	mu       sync.Mutex
	sessions map[string]*models.DriverSession
}

func NewMemorySessionLog() *MemorySessionLog {
	return &MemorySessionLog{sessions: make(map[string]*models.DriverSession)}
}

func (m *MemorySessionLog) OpenSession(ctx context.Context, driverID string, loginAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := newSessionID()
	m.sessions[id] = &models.DriverSession{
		ID:        id,
		DriverID:  driverID,
		LoginTime: loginAt,
		Active:    true,
	}
	return id, nil
}

func (m *MemorySessionLog) ActiveSession(ctx context.Context, driverID string) (*models.DriverSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.DriverID == driverID && s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemorySessionLog) CloseSession(ctx context.Context, id string, logoutAt time.Time, durationMin int, distanceKm float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	out := logoutAt
	s.LogoutTime = &out
	s.Active = false
	s.DurationMin = durationMin
	s.DistanceKm = distanceKm
	return nil
}

func (m *MemorySessionLog) SessionsByDriver(ctx context.Context, driverID string) ([]*models.DriverSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.DriverSession, 0)
	for _, s := range m.sessions {
		if s.DriverID == driverID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginTime.After(out[j].LoginTime) })
	return out, nil
}
