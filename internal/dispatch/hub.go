// Package dispatch is the real-time channel between the dispatcher and
// connected riders/drivers. Each party joins a room named after their user id;
// new ride requests fan out to every online driver (no geospatial filtering,
// a known scalability tradeoff), and responses are routed
// back to the interested party's room.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/presence"
	"github.com/example/ride-hailing/internal/ride"
)

// LocationPublisher receives captain location telemetry; wired to Kafka in
// production, nil-able for local runs.
type LocationPublisher interface {
	PublishLocation(loc models.CaptainLocation) error
}

// conn wraps one websocket with a write lock: gorilla/websocket allows at most
// one concurrent writer per connection.
type conn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(outEnvelope{Event: event, Data: data})
}

// Hub owns every live connection and the identity rooms. Delivery is
// at-least-once within a connection's lifetime; nothing is replayed across
// reconnects; a driver must re-send captain:online to resume broadcasts.
type Hub struct {
	rides     *ride.Service
	presence  *presence.Tracker
	telemetry LocationPublisher
	logger    *slog.Logger

	mu    sync.RWMutex
	conns map[string]*conn
	rooms map[string]map[string]*conn // identity -> conn id -> conn
}

func NewHub(rides *ride.Service, tracker *presence.Tracker, telemetry LocationPublisher, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rides:     rides,
		presence:  tracker,
		telemetry: telemetry,
		logger:    logger,
		conns:     make(map[string]*conn),
		rooms:     make(map[string]map[string]*conn),
	}
}

// HandleConn runs the read loop for one websocket until it drops, then
// reconciles presence. The teardown path runs unconditionally on every
// disconnect, so a crashed driver's session is always closed.
func (h *Hub) HandleConn(ws *websocket.Conn) {
	c := &conn{id: newConnID(), ws: ws}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer h.teardown(ctx, c)

	for {
		var env envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", "conn_id", c.id, "error", err)
			}
			return
		}
		observability.WSEventsTotal.WithLabelValues(env.Event).Inc()
		h.route(ctx, c, env)
	}
}

func (h *Hub) teardown(ctx context.Context, c *conn) {
	driverID, count, changed, err := h.presence.HandleDisconnect(ctx, c.id)
	if err != nil {
		h.logger.Error("disconnect reconciliation failed", "conn_id", c.id, "captain_id", driverID, "error", err)
	}

	h.mu.Lock()
	delete(h.conns, c.id)
	for identity, members := range h.rooms {
		if _, ok := members[c.id]; ok {
			delete(members, c.id)
			if len(members) == 0 {
				delete(h.rooms, identity)
			}
		}
	}
	h.mu.Unlock()

	_ = c.ws.Close()
	if changed {
		h.broadcastAll(EventDriversCount, count)
	}
}

func (h *Hub) joinRoom(identity string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[identity]
	if !ok {
		members = make(map[string]*conn)
		h.rooms[identity] = members
	}
	members[c.id] = c
}

func (h *Hub) leaveRoom(identity string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[identity]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, identity)
		}
	}
}

// sendToRoom delivers to every connection joined to the identity's room.
func (h *Hub) sendToRoom(identity, event string, data any) {
	h.mu.RLock()
	members := make([]*conn, 0, len(h.rooms[identity]))
	for _, c := range h.rooms[identity] {
		members = append(members, c)
	}
	h.mu.RUnlock()
	for _, c := range members {
		if err := c.send(event, data); err != nil {
			h.logger.Warn("room send failed", "identity", identity, "event", event, "error", err)
		}
	}
}

// broadcastAll delivers to every live connection, riders included.
func (h *Hub) broadcastAll(event string, data any) {
	h.mu.RLock()
	all := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		if err := c.send(event, data); err != nil {
			h.logger.Warn("broadcast send failed", "event", event, "error", err)
		}
	}
}

// broadcastToDrivers delivers to every driver the presence registry marks
// online, minus excludeConnID. The registry, not the room table, is
// authoritative for the broadcast audience.
func (h *Hub) broadcastToDrivers(event string, data any, excludeConnID string) {
	for _, connID := range h.presence.OnlineConnIDs() {
		if connID == excludeConnID {
			continue
		}
		h.mu.RLock()
		c, ok := h.conns[connID]
		h.mu.RUnlock()
		if !ok {
			continue
		}
		if err := c.send(event, data); err != nil {
			h.logger.Warn("driver broadcast failed", "event", event, "conn_id", connID, "error", err)
		}
	}
}

// BroadcastNewRequest pushes a freshly created pending ride to every online
// driver. Called by the HTTP layer right after ride creation.
func (h *Hub) BroadcastNewRequest(r *models.Ride) {
	h.broadcastToDrivers(EventRideNewRequest, newRequestPayload{
		RideID:      r.ID,
		UserID:      r.RiderID,
		UserName:    r.RiderName,
		Pickup:      r.Pickup,
		Destination: r.Destination,
		VehicleType: r.VehicleClass,
		Fare:        r.Fare,
		Passcode:    r.Passcode,
	}, "")
}

func formatDistance(km float64) string {
	return fmt.Sprintf("%.1f km", km)
}

func newConnID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
