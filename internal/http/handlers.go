package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/ride"
)

// Identity headers installed by the auth gateway. The core trusts them.
const (
	headerUserID    = "X-User-ID"
	headerUserName  = "X-User-Name"
	headerCaptainID = "X-Captain-ID"
)

type createRideRequest struct {
	Pickup      string              `json:"pickup"`
	Destination string              `json:"destination"`
	VehicleType models.VehicleClass `json:"vehicleType"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	riderID := r.Header.Get(headerUserID)
	if riderID == "" {
		writeError(w, ride.ErrValidation)
		return
	}
	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ride.ErrValidation)
		return
	}

	created, err := s.rides.Create(r.Context(), ride.CreateRequest{
		RiderID:      riderID,
		RiderName:    r.Header.Get(headerUserName),
		Pickup:       req.Pickup,
		Destination:  req.Destination,
		VehicleClass: req.VehicleType,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// Fan the pending request out to every online driver.
	s.hub.BroadcastNewRequest(created)

	writeJSON(w, http.StatusCreated, "Ride created successfully", map[string]any{"ride": created})
}

func (s *Server) handleFare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fares, err := s.fares.Fares(r.Context(), q.Get("pickup"), q.Get("destination"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Fares calculated successfully", map[string]any{"fares": fares})
}

func (s *Server) handleETA(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pickup, ok1 := coordParam(q.Get("pickup_lat"), q.Get("pickup_lng"))
	dest, ok2 := coordParam(q.Get("dest_lat"), q.Get("dest_lng"))
	if !ok1 || !ok2 {
		writeError(w, ride.ErrValidation)
		return
	}
	eta, err := s.fares.EstimateETA(r.Context(), pickup, dest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "ETA calculated successfully", eta)
}

func (s *Server) handleUserRides(w http.ResponseWriter, r *http.Request) {
	riderID := r.Header.Get(headerUserID)
	if riderID == "" {
		writeError(w, ride.ErrValidation)
		return
	}
	rides, err := s.rides.RiderHistory(r.Context(), riderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "User rides fetched successfully", map[string]any{"rides": rides})
}

func (s *Server) handleCaptainRides(w http.ResponseWriter, r *http.Request) {
	captainID := r.Header.Get(headerCaptainID)
	if captainID == "" {
		writeError(w, ride.ErrValidation)
		return
	}
	earnings, err := s.rides.DriverHistory(r.Context(), captainID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Captain rides fetched successfully", earnings)
}

func (s *Server) handleCaptainSessions(w http.ResponseWriter, r *http.Request) {
	captainID := r.Header.Get(headerCaptainID)
	if captainID == "" {
		writeError(w, ride.ErrValidation)
		return
	}
	sessions, err := s.presence.History(r.Context(), captainID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Captain sessions fetched successfully", map[string]any{"sessions": sessions})
}

var upgrader = websocket.Upgrader{
	// Browser clients connect from a different origin than the API host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s.hub.HandleConn(conn)
}

func coordParam(lat, lng string) (models.Coord, bool) {
	la, err1 := strconv.ParseFloat(lat, 64)
	ln, err2 := strconv.ParseFloat(lng, 64)
	if err1 != nil || err2 != nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: la, Lng: ln}, true
}
