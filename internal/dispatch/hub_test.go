package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/fare"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/presence"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/routing"
)

type fakeRoutes struct{}

func (fakeRoutes) DistanceTime(ctx context.Context, origin, destination string) (routing.Route, error) {
	return routing.Route{DistanceKm: 10, DurationSec: 1500, DurationText: "25 min"}, nil
}

type capturedLocation struct {
	mu   sync.Mutex
	locs []models.CaptainLocation
}

func (c *capturedLocation) PublishLocation(loc models.CaptainLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locs = append(c.locs, loc)
	return nil
}

func (c *capturedLocation) snapshot() []models.CaptainLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.CaptainLocation(nil), c.locs...)
}

func newTestHub(t *testing.T) (*Hub, *ride.Service, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ride.NewService(ride.NewMemoryStore(), fare.NewEstimator(fakeRoutes{}), fakeRoutes{}, logger)
	tracker := presence.NewTracker(presence.NewMemorySessionLog(), logger)
	hub := NewHub(svc, tracker, nil, logger)

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.HandleConn(ws)
	}))
	t.Cleanup(srv.Close)
	return hub, svc, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendEvent(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	if err := ws.WriteJSON(outEnvelope{Event: event, Data: data}); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

// readEvent blocks for the next frame with the given event name, skipping
// unrelated broadcasts such as drivers:count.
func readEvent(t *testing.T, ws *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	_ = ws.SetReadDeadline(deadline)
	for {
		var env envelope
		if err := ws.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env.Data
		}
	}
}

func goOnline(t *testing.T, ws *websocket.Conn, captainID string) {
	t.Helper()
	sendEvent(t, ws, EventCaptainOnline, captainOnlinePayload{
		CaptainProfile: models.CaptainProfile{ID: captainID, Name: "Ravi", Rating: 4.8, VehicleClass: models.VehicleCar},
		Location:       models.Coord{Lat: 12.97, Lng: 77.59},
	})
	readEvent(t, ws, EventDriversCount)
}

func createRide(t *testing.T, svc *ride.Service) *models.Ride {
	t.Helper()
	r, err := svc.Create(context.Background(), ride.CreateRequest{
		RiderID: "u1", RiderName: "Asha", Pickup: "MG Road", Destination: "Airport",
		VehicleClass: models.VehicleCar,
	})
	if err != nil {
		t.Fatalf("create ride: %v", err)
	}
	return r
}

func TestCaptainOnlineOfflineCount(t *testing.T) {
	_, _, srv := newTestHub(t)
	ws := dial(t, srv)

	sendEvent(t, ws, EventCaptainOnline, captainOnlinePayload{
		CaptainProfile: models.CaptainProfile{ID: "c1", Name: "Ravi"},
	})
	var count int
	if err := json.Unmarshal(readEvent(t, ws, EventDriversCount), &count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	sendEvent(t, ws, EventCaptainOffline, "c1")
	if err := json.Unmarshal(readEvent(t, ws, EventDriversCount), &count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestNewRequestReachesOnlineDrivers(t *testing.T) {
	hub, svc, srv := newTestHub(t)

	driver := dial(t, srv)
	goOnline(t, driver, "c1")

	r := createRide(t, svc)
	hub.BroadcastNewRequest(r)

	var p newRequestPayload
	if err := json.Unmarshal(readEvent(t, driver, EventRideNewRequest), &p); err != nil {
		t.Fatal(err)
	}
	if p.RideID != r.ID || p.UserID != "u1" || p.Fare != r.Fare || p.Passcode != r.Passcode {
		t.Fatalf("payload = %+v", p)
	}
	if p.VehicleType != models.VehicleCar {
		t.Fatalf("vehicle type = %s", p.VehicleType)
	}
}

func TestAcceptRace(t *testing.T) {
	hub, svc, srv := newTestHub(t)

	rider := dial(t, srv)
	sendEvent(t, rider, EventJoinUser, joinUserPayload{UserID: "u1"})

	d1 := dial(t, srv)
	goOnline(t, d1, "c1")
	d2 := dial(t, srv)
	goOnline(t, d2, "c2")

	r := createRide(t, svc)
	hub.BroadcastNewRequest(r)
	readEvent(t, d1, EventRideNewRequest)
	readEvent(t, d2, EventRideNewRequest)

	// First driver claims and gets the confirmation with the full route info.
	sendEvent(t, d1, EventRideAccept, rideAcceptPayload{RideID: r.ID, CaptainID: "c1"})
	var confirmed acceptancePayload
	if err := json.Unmarshal(readEvent(t, d1, EventRideConfirmed), &confirmed); err != nil {
		t.Fatal(err)
	}
	if confirmed.RideID != r.ID || confirmed.Captain.ID != "c1" {
		t.Fatalf("confirmation = %+v", confirmed)
	}
	if confirmed.Pickup != "MG Road" || confirmed.Destination != "Airport" {
		t.Fatalf("confirmation missing addresses: %+v", confirmed)
	}

	// The rider learns who accepted.
	var accepted acceptancePayload
	if err := json.Unmarshal(readEvent(t, rider, EventRideAccepted), &accepted); err != nil {
		t.Fatal(err)
	}
	if accepted.Captain.Name != "Ravi" || accepted.Passcode != r.Passcode {
		t.Fatalf("accepted = %+v", accepted)
	}

	// The other driver is told the ride is gone.
	var goneID string
	if err := json.Unmarshal(readEvent(t, d2, EventRideUnavailable), &goneID); err != nil {
		t.Fatal(err)
	}
	if goneID != r.ID {
		t.Fatalf("unavailable ride id = %q", goneID)
	}

	// A late claim fails loudly.
	sendEvent(t, d2, EventRideAccept, rideAcceptPayload{RideID: r.ID, CaptainID: "c2"})
	var failure errorPayload
	if err := json.Unmarshal(readEvent(t, d2, EventRideError), &failure); err != nil {
		t.Fatal(err)
	}
	if failure.Message != "Ride is no longer available" {
		t.Fatalf("error message = %q", failure.Message)
	}
}

func TestRideLifecycleOverSocket(t *testing.T) {
	hub, svc, srv := newTestHub(t)

	rider := dial(t, srv)
	sendEvent(t, rider, EventJoinUser, joinUserPayload{UserID: "u1"})
	driver := dial(t, srv)
	goOnline(t, driver, "c1")

	r := createRide(t, svc)
	hub.BroadcastNewRequest(r)
	readEvent(t, driver, EventRideNewRequest)

	sendEvent(t, driver, EventRideAccept, rideAcceptPayload{RideID: r.ID, CaptainID: "c1"})
	readEvent(t, driver, EventRideConfirmed)
	readEvent(t, rider, EventRideAccepted)

	// Wrong passcode is rejected without starting the trip.
	sendEvent(t, driver, EventRideStart, rideStartPayload{RideID: r.ID, Passcode: "nope"})
	var failure errorPayload
	if err := json.Unmarshal(readEvent(t, driver, EventRideError), &failure); err != nil {
		t.Fatal(err)
	}
	if failure.Message != "Invalid OTP" {
		t.Fatalf("error message = %q", failure.Message)
	}

	sendEvent(t, driver, EventRideStart, rideStartPayload{RideID: r.ID, Passcode: r.Passcode})
	readEvent(t, driver, EventRideStarted)
	readEvent(t, rider, EventRideStarted)

	sendEvent(t, driver, EventRideComplete, r.ID)
	var done rideCompletedPayload
	if err := json.Unmarshal(readEvent(t, rider, EventRideCompleted), &done); err != nil {
		t.Fatal(err)
	}
	if done.RideID != r.ID || done.Fare != r.Fare {
		t.Fatalf("completed = %+v", done)
	}
	readEvent(t, driver, EventRideCompleted)
}

func TestCancelNotifiesBothParties(t *testing.T) {
	hub, svc, srv := newTestHub(t)

	rider := dial(t, srv)
	sendEvent(t, rider, EventJoinUser, joinUserPayload{UserID: "u1"})
	driver := dial(t, srv)
	goOnline(t, driver, "c1")

	r := createRide(t, svc)
	hub.BroadcastNewRequest(r)
	readEvent(t, driver, EventRideNewRequest)
	sendEvent(t, driver, EventRideAccept, rideAcceptPayload{RideID: r.ID, CaptainID: "c1"})
	readEvent(t, driver, EventRideConfirmed)
	readEvent(t, rider, EventRideAccepted)

	sendEvent(t, rider, EventRideCancel, r.ID)
	var cancelled rideCancelledPayload
	if err := json.Unmarshal(readEvent(t, rider, EventRideCancelled), &cancelled); err != nil {
		t.Fatal(err)
	}
	if cancelled.RideID != r.ID {
		t.Fatalf("cancelled = %+v", cancelled)
	}
	readEvent(t, driver, EventRideCancelled)
}

func TestLocationUpdateRelayAndTelemetry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ride.NewService(ride.NewMemoryStore(), fare.NewEstimator(fakeRoutes{}), fakeRoutes{}, logger)
	tracker := presence.NewTracker(presence.NewMemorySessionLog(), logger)
	sink := &capturedLocation{}
	hub := NewHub(svc, tracker, sink, logger)

	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.HandleConn(ws)
	}))
	t.Cleanup(srv.Close)

	rider := dial(t, srv)
	sendEvent(t, rider, EventJoinUser, joinUserPayload{UserID: "u1"})
	driver := dial(t, srv)
	goOnline(t, driver, "c1")

	r := createRide(t, svc)
	if _, err := svc.Claim(context.Background(), r.ID, "c1"); err != nil {
		t.Fatal(err)
	}

	sendEvent(t, driver, EventCaptainLocation, locationUpdatePayload{
		CaptainID: "c1",
		Location:  models.Coord{Lat: 12.98, Lng: 77.6},
		RideID:    r.ID,
	})

	var relayed rideLocationPayload
	if err := json.Unmarshal(readEvent(t, rider, EventRideLocation), &relayed); err != nil {
		t.Fatal(err)
	}
	if relayed.RideID != r.ID || relayed.Location.Lat != 12.98 {
		t.Fatalf("relayed = %+v", relayed)
	}

	// The telemetry hook fired with the driver's vehicle class attached.
	locs := sink.snapshot()
	if len(locs) != 1 {
		t.Fatalf("telemetry publishes = %d, want 1", len(locs))
	}
	if locs[0].DriverID != "c1" || locs[0].VehicleClass != models.VehicleCar {
		t.Fatalf("telemetry = %+v", locs[0])
	}
}

func TestDisconnectTakesDriverOffline(t *testing.T) {
	_, _, srv := newTestHub(t)

	rider := dial(t, srv)
	sendEvent(t, rider, EventJoinUser, joinUserPayload{UserID: "u1"})

	driver := dial(t, srv)
	goOnline(t, driver, "c1")
	// The rider sees the count go up...
	var count int
	if err := json.Unmarshal(readEvent(t, rider, EventDriversCount), &count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	// ...and back down when the driver's socket drops without a goodbye.
	_ = driver.Close()
	if err := json.Unmarshal(readEvent(t, rider, EventDriversCount), &count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("count after disconnect = %d, want 0", count)
	}
}
