package dispatch

import (
	"encoding/json"

	"github.com/example/ride-hailing/internal/models"
)

// Wire contract. Event names and payload keys are consumed by deployed rider
// and driver clients; do not rename.
const (
	// client -> server
	EventJoinUser        = "join:user"
	EventCaptainOnline   = "captain:online"
	EventCaptainOffline  = "captain:offline"
	EventRideAccept      = "ride:accept"
	EventRideStart       = "ride:start"
	EventRideComplete    = "ride:complete"
	EventRideCancel      = "ride:cancel"
	EventCaptainLocation = "captain:location_update"

	// server -> client
	EventRideNewRequest   = "ride:new_request"
	EventRideAccepted     = "ride:accepted"
	EventRideConfirmed    = "ride:acceptance_confirmed"
	EventRideUnavailable  = "ride:unavailable"
	EventRideStarted      = "ride:started"
	EventRideCompleted    = "ride:completed"
	EventRideCancelled    = "ride:cancelled"
	EventRideLocation     = "ride:location_update"
	EventDriversCount     = "drivers:count"
	EventRideError        = "ride:error"
	EventCaptainError     = "captain:error"
)

// envelope frames every message in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type joinUserPayload struct {
	UserID string `json:"userId"`
}

type captainOnlinePayload struct {
	models.CaptainProfile
	Location models.Coord `json:"location"`
}

type rideAcceptPayload struct {
	RideID    string `json:"rideId"`
	CaptainID string `json:"captainId"`
}

type rideStartPayload struct {
	RideID   string `json:"rideId"`
	Passcode string `json:"otp"`
}

type locationUpdatePayload struct {
	CaptainID string       `json:"captainId"`
	Location  models.Coord `json:"location"`
	RideID    string       `json:"rideId,omitempty"`
}

type newRequestPayload struct {
	RideID      string              `json:"rideId"`
	UserID      string              `json:"userId"`
	UserName    string              `json:"userName"`
	Pickup      string              `json:"pickup"`
	Destination string              `json:"destination"`
	VehicleType models.VehicleClass `json:"vehicleType"`
	Fare        int64               `json:"fare"`
	Passcode    string              `json:"otp"`
}

type captainInfo struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Vehicle models.Vehicle `json:"vehicle"`
	Phone   string         `json:"phone"`
	Rating  float64        `json:"rating"`
}

type acceptancePayload struct {
	RideID       string      `json:"rideId"`
	Captain      captainInfo `json:"captain"`
	Fare         int64       `json:"fare"`
	Duration     int         `json:"duration"`
	DurationText string      `json:"durationText"`
	Distance     string      `json:"distance"`
	Status       string      `json:"status"`
	Passcode     string      `json:"otp"`
	// Only set on the confirmation sent back to the claiming driver.
	Pickup      string `json:"pickup,omitempty"`
	Destination string `json:"destination,omitempty"`
}

type rideStartedPayload struct {
	RideID string `json:"rideId"`
}

type rideCompletedPayload struct {
	RideID   string  `json:"rideId"`
	Fare     int64   `json:"fare"`
	Distance float64 `json:"distance"`
	Duration int     `json:"duration"`
}

type rideCancelledPayload struct {
	RideID string `json:"rideId"`
}

type rideLocationPayload struct {
	Location models.Coord `json:"location"`
	RideID   string       `json:"rideId"`
}

type errorPayload struct {
	Message string `json:"message"`
}
