package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/ride"
)

func (h *Hub) route(ctx context.Context, c *conn, env envelope) {
	switch env.Event {
	case EventJoinUser:
		h.handleJoinUser(c, env.Data)
	case EventCaptainOnline:
		h.handleCaptainOnline(ctx, c, env.Data)
	case EventCaptainOffline:
		h.handleCaptainOffline(ctx, c, env.Data)
	case EventRideAccept:
		h.handleRideAccept(ctx, c, env.Data)
	case EventRideStart:
		h.handleRideStart(ctx, c, env.Data)
	case EventRideComplete:
		h.handleRideComplete(ctx, c, env.Data)
	case EventRideCancel:
		h.handleRideCancel(ctx, c, env.Data)
	case EventCaptainLocation:
		h.handleLocationUpdate(ctx, c, env.Data)
	default:
		h.logger.Debug("unknown event", "event", env.Event, "conn_id", c.id)
	}
}

func (h *Hub) handleJoinUser(c *conn, data json.RawMessage) {
	var p joinUserPayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		return
	}
	h.joinRoom(p.UserID, c)
}

func (h *Hub) handleCaptainOnline(ctx context.Context, c *conn, data json.RawMessage) {
	var p captainOnlinePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		_ = c.send(EventCaptainError, errorPayload{Message: "Failed to go online"})
		return
	}
	count, err := h.presence.MarkOnline(ctx, p.CaptainProfile, c.id, p.Location)
	if err != nil {
		h.logger.Error("mark online failed", "captain_id", p.ID, "error", err)
		_ = c.send(EventCaptainError, errorPayload{Message: "Failed to go online"})
		return
	}
	h.joinRoom(p.ID, c)
	h.broadcastAll(EventDriversCount, count)
}

func (h *Hub) handleCaptainOffline(ctx context.Context, c *conn, data json.RawMessage) {
	var captainID string
	if err := json.Unmarshal(data, &captainID); err != nil || captainID == "" {
		return
	}
	count, err := h.presence.MarkOffline(ctx, captainID)
	if err != nil {
		h.logger.Error("mark offline failed", "captain_id", captainID, "error", err)
	}
	h.leaveRoom(captainID, c)
	h.broadcastAll(EventDriversCount, count)
}

// handleRideAccept runs the claim race. Exactly one driver wins; every loser
// gets a ride:error naming the ride as gone so the client drops it from the
// pending list instead of retrying.
func (h *Hub) handleRideAccept(ctx context.Context, c *conn, data json.RawMessage) {
	var p rideAcceptPayload
	if err := json.Unmarshal(data, &p); err != nil {
		_ = c.send(EventRideError, errorPayload{Message: "Failed to accept ride"})
		return
	}

	r, err := h.rides.Claim(ctx, p.RideID, p.CaptainID)
	if err != nil {
		_ = c.send(EventRideError, errorPayload{Message: claimErrorMessage(err)})
		return
	}

	info := captainInfo{ID: p.CaptainID}
	if e, ok := h.presence.Entry(p.CaptainID); ok {
		info.Name = e.Profile.Name
		info.Vehicle = e.Profile.Vehicle
		info.Phone = e.Profile.Phone
		info.Rating = e.Profile.Rating
	}
	accepted := acceptancePayload{
		RideID:       r.ID,
		Captain:      info,
		Fare:         r.Fare,
		Duration:     r.DurationMin,
		DurationText: r.DurationText,
		Distance:     formatDistance(r.DistanceKm),
		Status:       string(r.Status),
		Passcode:     r.Passcode,
	}

	h.sendToRoom(r.RiderID, EventRideAccepted, accepted)

	confirmed := accepted
	confirmed.Pickup = r.Pickup
	confirmed.Destination = r.Destination
	_ = c.send(EventRideConfirmed, confirmed)

	h.broadcastToDrivers(EventRideUnavailable, r.ID, c.id)
}

func claimErrorMessage(err error) string {
	switch {
	case errors.Is(err, ride.ErrRideNotFound):
		return "Ride not found"
	case errors.Is(err, ride.ErrRideUnavailable):
		return "Ride is no longer available"
	default:
		return "Failed to accept ride"
	}
}

func (h *Hub) handleRideStart(ctx context.Context, c *conn, data json.RawMessage) {
	var p rideStartPayload
	if err := json.Unmarshal(data, &p); err != nil {
		_ = c.send(EventRideError, errorPayload{Message: "Failed to start ride"})
		return
	}
	r, err := h.rides.Start(ctx, p.RideID, p.Passcode)
	if err != nil {
		switch {
		case errors.Is(err, ride.ErrRideNotFound):
			_ = c.send(EventRideError, errorPayload{Message: "Ride not found"})
		case errors.Is(err, ride.ErrInvalidPasscode):
			_ = c.send(EventRideError, errorPayload{Message: "Invalid OTP"})
		default:
			_ = c.send(EventRideError, errorPayload{Message: "Failed to start ride"})
		}
		return
	}
	started := rideStartedPayload{RideID: r.ID}
	h.sendToRoom(r.RiderID, EventRideStarted, started)
	h.sendToRoom(r.DriverID, EventRideStarted, started)
}

func (h *Hub) handleRideComplete(ctx context.Context, c *conn, data json.RawMessage) {
	var rideID string
	if err := json.Unmarshal(data, &rideID); err != nil || rideID == "" {
		_ = c.send(EventRideError, errorPayload{Message: "Failed to complete ride"})
		return
	}
	r, err := h.rides.Complete(ctx, rideID)
	if err != nil {
		_ = c.send(EventRideError, errorPayload{Message: "Failed to complete ride"})
		return
	}
	done := rideCompletedPayload{RideID: r.ID, Fare: r.Fare, Distance: r.DistanceKm, Duration: r.DurationMin}
	h.sendToRoom(r.RiderID, EventRideCompleted, done)
	h.sendToRoom(r.DriverID, EventRideCompleted, done)
}

func (h *Hub) handleRideCancel(ctx context.Context, c *conn, data json.RawMessage) {
	var rideID string
	if err := json.Unmarshal(data, &rideID); err != nil || rideID == "" {
		_ = c.send(EventRideError, errorPayload{Message: "Failed to cancel ride"})
		return
	}
	r, err := h.rides.Cancel(ctx, rideID)
	if err != nil {
		_ = c.send(EventRideError, errorPayload{Message: "Failed to cancel ride"})
		return
	}
	cancelled := rideCancelledPayload{RideID: r.ID}
	h.sendToRoom(r.RiderID, EventRideCancelled, cancelled)
	if r.DriverID != "" {
		h.sendToRoom(r.DriverID, EventRideCancelled, cancelled)
	}
}

func (h *Hub) handleLocationUpdate(ctx context.Context, c *conn, data json.RawMessage) {
	var p locationUpdatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.CaptainID == "" {
		return
	}

	h.presence.UpdateLocation(p.CaptainID, p.Location)

	if h.telemetry != nil {
		loc := models.CaptainLocation{DriverID: p.CaptainID, Location: p.Location, RecordedAt: time.Now()}
		if e, ok := h.presence.Entry(p.CaptainID); ok {
			loc.VehicleClass = e.Profile.VehicleClass
		}
		if err := h.telemetry.PublishLocation(loc); err != nil {
			h.logger.Warn("location telemetry publish failed", "captain_id", p.CaptainID, "error", err)
		}
	}

	if p.RideID == "" {
		return
	}
	r, err := h.rides.Get(ctx, p.RideID)
	if err != nil || r.RiderID == "" {
		return
	}
	h.sendToRoom(r.RiderID, EventRideLocation, rideLocationPayload{Location: p.Location, RideID: p.RideID})
}
