package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/fare"
	"github.com/example/ride-hailing/internal/presence"
	"github.com/example/ride-hailing/internal/ride"
	"github.com/example/ride-hailing/internal/routing"
)

// Server is the HTTP surface of the dispatcher: ride creation, fare/ETA
// quotes, history/analytics reads and the websocket upgrade endpoint.
// Authentication happens upstream; identities arrive in trusted headers.
type Server struct {
	rides    *ride.Service
	fares    *fare.Estimator
	hub      *dispatch.Hub
	presence *presence.Tracker
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(rides *ride.Service, fares *fare.Estimator, hub *dispatch.Hub, tracker *presence.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		rides:    rides,
		fares:    fares,
		hub:      hub,
		presence: tracker,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides/request", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/fare", s.handleFare).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/eta", s.handleETA).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/user", s.handleUserRides).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/captain", s.handleCaptainRides).Methods("GET")
	s.mux.HandleFunc("/api/v1/captain/sessions", s.handleCaptainSessions).Methods("GET")
	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "success",
		"message": message,
		"data":    data,
	})
}

// writeError maps core errors onto transport codes without leaking storage or
// provider internals. A lost claim race is 409, distinct from plain failures,
// so clients drop the stale request instead of retrying.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ride.ErrValidation), errors.Is(err, fare.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, ride.ErrRideNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ride.ErrRideUnavailable):
		code = http.StatusConflict
	case errors.Is(err, ride.ErrInvalidPasscode):
		code = http.StatusUnauthorized
	case errors.Is(err, routing.ErrRouteUnavailable), errors.Is(err, ride.ErrFareUnavailable):
		code = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "error",
		"message": err.Error(),
	})
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
