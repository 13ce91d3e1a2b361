package presence

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/example/ride-hailing/internal/models"
)

func testTracker() (*Tracker, *MemorySessionLog) {
	log := NewMemorySessionLog()
	return NewTracker(log, slog.New(slog.NewTextHandler(io.Discard, nil))), log
}

func profile(id string) models.CaptainProfile {
	return models.CaptainProfile{ID: id, Name: "Ravi", Rating: 4.7, VehicleClass: models.VehicleCar}
}

func TestMarkOnline(t *testing.T) {
	tr, sessions := testTracker()
	ctx := context.Background()

	count, err := tr.MarkOnline(ctx, profile("c1"), "conn-1", models.Coord{Lat: 12.9, Lng: 77.5})
	if err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	e, ok := tr.Entry("c1")
	if !ok {
		t.Fatal("entry missing after online")
	}
	if e.ConnID != "conn-1" || e.Location.Lat != 12.9 {
		t.Fatalf("entry = %+v", e)
	}

	active, err := sessions.ActiveSession(ctx, "c1")
	if err != nil || active == nil {
		t.Fatalf("expected active session, got %v err=%v", active, err)
	}
}

func TestMarkOnline_RepeatDoesNotDuplicateSession(t *testing.T) {
	tr, sessions := testTracker()
	ctx := context.Background()

	if _, err := tr.MarkOnline(ctx, profile("c1"), "conn-1", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	// Reconnect with a fresh socket.
	count, err := tr.MarkOnline(ctx, profile("c1"), "conn-2", models.Coord{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 after repeat online", count)
	}

	all, _ := sessions.SessionsByDriver(ctx, "c1")
	if len(all) != 1 {
		t.Fatalf("sessions = %d, want 1", len(all))
	}
	if e, _ := tr.Entry("c1"); e.ConnID != "conn-2" {
		t.Fatalf("registry kept stale conn id %q", e.ConnID)
	}
}

func TestMarkOffline_ClosesSession(t *testing.T) {
	tr, sessions := testTracker()
	ctx := context.Background()

	if _, err := tr.MarkOnline(ctx, profile("c1"), "conn-1", models.Coord{Lat: 12.9716, Lng: 77.5946}); err != nil {
		t.Fatal(err)
	}
	// Two fixes roughly 290 km apart.
	if !tr.UpdateLocation("c1", models.Coord{Lat: 13.0827, Lng: 80.2707}) {
		t.Fatal("update location for online driver returned false")
	}

	count, err := tr.MarkOffline(ctx, "c1")
	if err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}

	all, _ := sessions.SessionsByDriver(ctx, "c1")
	if len(all) != 1 {
		t.Fatalf("sessions = %d, want 1", len(all))
	}
	s := all[0]
	if s.Active || s.LogoutTime == nil {
		t.Fatalf("session not closed: %+v", s)
	}
	if s.DurationMin < 0 {
		t.Fatalf("negative duration %d", s.DurationMin)
	}
	if s.DistanceKm < 280 || s.DistanceKm > 300 {
		t.Fatalf("distance = %.1f km, want ~290", s.DistanceKm)
	}
}

func TestUpdateLocation_UnknownDriver(t *testing.T) {
	tr, _ := testTracker()
	if tr.UpdateLocation("ghost", models.Coord{Lat: 1, Lng: 1}) {
		t.Fatal("update for unknown driver should return false")
	}
}

func TestHandleDisconnect(t *testing.T) {
	tr, sessions := testTracker()
	ctx := context.Background()

	if _, err := tr.MarkOnline(ctx, profile("c1"), "conn-1", models.Coord{}); err != nil {
		t.Fatal(err)
	}

	driverID, count, changed, err := tr.HandleDisconnect(ctx, "conn-1")
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if driverID != "c1" || !changed || count != 0 {
		t.Fatalf("driver=%q changed=%v count=%d", driverID, changed, count)
	}
	active, _ := sessions.ActiveSession(ctx, "c1")
	if active != nil {
		t.Fatal("session still active after disconnect")
	}
}

func TestHandleDisconnect_StaleConn(t *testing.T) {
	tr, sessions := testTracker()
	ctx := context.Background()

	if _, err := tr.MarkOnline(ctx, profile("c1"), "conn-old", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.MarkOnline(ctx, profile("c1"), "conn-new", models.Coord{}); err != nil {
		t.Fatal(err)
	}

	// The old socket's disconnect arrives after the reconnect; the driver must
	// stay online.
	_, count, changed, err := tr.HandleDisconnect(ctx, "conn-old")
	if err != nil {
		t.Fatal(err)
	}
	if changed || count != 1 {
		t.Fatalf("stale disconnect took driver offline: changed=%v count=%d", changed, count)
	}
	if active, _ := sessions.ActiveSession(ctx, "c1"); active == nil {
		t.Fatal("session closed by stale disconnect")
	}

	// The live socket dropping does take them offline.
	_, count, changed, _ = tr.HandleDisconnect(ctx, "conn-new")
	if !changed || count != 0 {
		t.Fatalf("live disconnect ignored: changed=%v count=%d", changed, count)
	}
}

func TestHandleDisconnect_RiderConn(t *testing.T) {
	tr, _ := testTracker()
	driverID, _, changed, err := tr.HandleDisconnect(context.Background(), "rider-conn")
	if err != nil {
		t.Fatal(err)
	}
	if driverID != "" || changed {
		t.Fatalf("rider disconnect touched presence: driver=%q changed=%v", driverID, changed)
	}
}

func TestOnlineConnIDs(t *testing.T) {
	tr, _ := testTracker()
	ctx := context.Background()
	if _, err := tr.MarkOnline(ctx, profile("c1"), "conn-1", models.Coord{}); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.MarkOnline(ctx, profile("c2"), "conn-2", models.Coord{}); err != nil {
		t.Fatal(err)
	}

	ids := tr.OnlineConnIDs()
	if len(ids) != 2 {
		t.Fatalf("conn ids = %v, want 2", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["conn-1"] || !seen["conn-2"] {
		t.Fatalf("conn ids = %v", ids)
	}
}
