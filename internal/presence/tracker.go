// Package presence tracks which drivers are reachable for dispatch right now
// (the in-memory registry) and their durable online/offline history (the
// session log). The registry is process-local and rebuilt from scratch on
// restart; the session log survives.
package presence

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
)

// SessionStore is the durable DriverSession log.
type SessionStore interface {
	OpenSession(ctx context.Context, driverID string, loginAt time.Time) (string, error)
	// ActiveSession returns nil, nil when the driver has no open session.
	ActiveSession(ctx context.Context, driverID string) (*models.DriverSession, error)
	CloseSession(ctx context.Context, id string, logoutAt time.Time, durationMin int, distanceKm float64) error
	SessionsByDriver(ctx context.Context, driverID string) ([]*models.DriverSession, error)
}

// Entry is one online driver as the dispatcher sees them.
type Entry struct {
	Profile  models.CaptainProfile
	ConnID   string
	Location models.Coord

	hasLocation bool
	distanceM   float64 // accumulated over this session for analytics
}

// Tracker owns the online-driver registry. All mutations take one lock, so an
// online/offline/disconnect for a driver is a single atomic step and the
// size-based drivers:count broadcast can never observe a partial update.
// A secondary index (conn id -> driver id) makes disconnect handling O(1).
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Entry
	byConn  map[string]string

	sessions SessionStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewTracker(sessions SessionStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		entries:  make(map[string]*Entry),
		byConn:   make(map[string]string),
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// MarkOnline registers the driver for broadcasts and opens a DriverSession
// unless one is already active: a repeated online signal (reconnect, double
// tap) only overwrites the registry entry, never duplicates the session.
// Returns the registry size after the mutation.
func (t *Tracker) MarkOnline(ctx context.Context, profile models.CaptainProfile, connID string, loc models.Coord) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.entries[profile.ID]; ok {
		delete(t.byConn, prev.ConnID)
		prev.Profile = profile
		prev.ConnID = connID
		if loc != (models.Coord{}) {
			prev.Location = loc
			prev.hasLocation = true
		}
		t.byConn[connID] = profile.ID
		return t.countLocked(), nil
	}

	active, err := t.sessions.ActiveSession(ctx, profile.ID)
	if err != nil {
		return t.countLocked(), err
	}
	if active == nil {
		if _, err := t.sessions.OpenSession(ctx, profile.ID, t.now()); err != nil {
			return t.countLocked(), err
		}
	}

	e := &Entry{Profile: profile, ConnID: connID}
	if loc != (models.Coord{}) {
		e.Location = loc
		e.hasLocation = true
	}
	t.entries[profile.ID] = e
	t.byConn[connID] = profile.ID
	return t.countLocked(), nil
}

// MarkOffline removes the driver from the registry and closes their active
// session with logout time, whole-minute duration and accumulated distance.
// No-op when the driver has no active session.
func (t *Tracker) MarkOffline(ctx context.Context, driverID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offlineLocked(ctx, driverID)
}

// HandleDisconnect reconciles an abruptly dropped connection: if it belonged
// to an online driver, it behaves exactly as MarkOffline for that driver. Safe
// to call for rider connections and for drivers that already went offline
// explicitly. The changed result tells the caller whether to re-broadcast the
// driver count.
func (t *Tracker) HandleDisconnect(ctx context.Context, connID string) (driverID string, count int, changed bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	driverID, ok := t.byConn[connID]
	if !ok {
		return "", t.countLocked(), false, nil
	}
	// A driver that reconnected already holds a fresh conn id; the late
	// disconnect of the old socket must not take them offline.
	if e := t.entries[driverID]; e == nil || e.ConnID != connID {
		delete(t.byConn, connID)
		return driverID, t.countLocked(), false, nil
	}
	count, err = t.offlineLocked(ctx, driverID)
	return driverID, count, true, err
}

func (t *Tracker) offlineLocked(ctx context.Context, driverID string) (int, error) {
	var distanceM float64
	if e, ok := t.entries[driverID]; ok {
		distanceM = e.distanceM
		delete(t.byConn, e.ConnID)
		delete(t.entries, driverID)
	}
	count := t.countLocked()

	active, err := t.sessions.ActiveSession(ctx, driverID)
	if err != nil {
		return count, err
	}
	if active == nil {
		return count, nil
	}
	logout := t.now()
	duration := int(math.Round(logout.Sub(active.LoginTime).Minutes()))
	if duration < 0 {
		duration = 0
	}
	if err := t.sessions.CloseSession(ctx, active.ID, logout, duration, distanceM/1000); err != nil {
		return count, err
	}
	return count, nil
}

// UpdateLocation stores the driver's last-known position and accumulates the
// haversine distance travelled since the previous fix. Returns false when the
// driver is not online.
func (t *Tracker) UpdateLocation(driverID string, loc models.Coord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[driverID]
	if !ok {
		return false
	}
	if e.hasLocation {
		e.distanceM += geo.Haversine(e.Location.Lat, e.Location.Lng, loc.Lat, loc.Lng)
	}
	e.Location = loc
	e.hasLocation = true
	return true
}

// ActiveDriverCount is the registry size, broadcast after every mutation.
func (t *Tracker) ActiveDriverCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.countLocked()
}

// Entry returns a snapshot of one online driver.
func (t *Tracker) Entry(driverID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[driverID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// OnlineConnIDs snapshots the connection ids of every online driver; this is
// the authoritative broadcast audience for new ride requests.
func (t *Tracker) OnlineConnIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.ConnID)
	}
	return out
}

func (t *Tracker) History(ctx context.Context, driverID string) ([]*models.DriverSession, error) {
	return t.sessions.SessionsByDriver(ctx, driverID)
}

func (t *Tracker) countLocked() int {
	n := len(t.entries)
	observability.DriversOnline.Set(float64(n))
	return n
}

func newSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
