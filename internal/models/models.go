package models

import (
	"fmt"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LatLng renders the coordinate in the "lat,lng" form routing providers accept.
func (c Coord) LatLng() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

type VehicleClass string

const (
	VehicleAuto       VehicleClass = "auto"
	VehicleCar        VehicleClass = "car"
	VehicleMotorcycle VehicleClass = "motorcycle"
)

type RideStatus string

const (
	StatusPending   RideStatus = "pending"
	StatusAccepted  RideStatus = "accepted"
	StatusOngoing   RideStatus = "ongoing"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

// Terminal reports whether a ride may never change status again.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Ride is the trip request entity, tracked from creation to a terminal state.
// DriverID is empty exactly while no driver has claimed the ride. Passcode is
// generated once at creation and never changes.
type Ride struct {
	ID           string       `json:"rideId"`
	RiderID      string       `json:"userId"`
	RiderName    string       `json:"userName"`
	DriverID     string       `json:"captainId,omitempty"`
	Pickup       string       `json:"pickup"`
	Destination  string       `json:"destination"`
	VehicleClass VehicleClass `json:"vehicleType"`
	Fare         int64        `json:"fare"`
	Passcode     string       `json:"otp"`
	Status       RideStatus   `json:"status"`
	DurationMin  int          `json:"duration"`
	DurationText string       `json:"durationText,omitempty"`
	DistanceKm   float64      `json:"distance"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// TripEstimate carries the routing figures attached to a ride when a driver
// claims it.
type TripEstimate struct {
	DurationMin  int
	DurationText string
	DistanceKm   float64
}

// Vehicle is the driver-supplied vehicle description relayed to riders on
// acceptance.
type Vehicle struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Color string `json:"color,omitempty"`
	Plate string `json:"plate,omitempty"`
}

// CaptainProfile is the identity data a driver announces when going online.
// The core trusts it as handed over by the auth layer.
type CaptainProfile struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone,omitempty"`
	Rating       float64      `json:"rating"`
	Vehicle      Vehicle      `json:"vehicle"`
	VehicleClass VehicleClass `json:"vehicleType"`
}

// DriverSession is one durable online/offline interval for a driver, kept for
// analytics (hours online, distance). At most one session per driver is active
// at any time.
type DriverSession struct {
	ID          string     `json:"id"`
	DriverID    string     `json:"captainId"`
	LoginTime   time.Time  `json:"loginTime"`
	LogoutTime  *time.Time `json:"logoutTime,omitempty"`
	Active      bool       `json:"isActive"`
	DurationMin int        `json:"duration"`
	DistanceKm  float64    `json:"distanceKm"`
}

// CaptainLocation is the telemetry message published to Kafka on every
// captain:location_update and mirrored into Redis by the consumer.
type CaptainLocation struct {
	DriverID     string       `json:"captainId"`
	Location     Coord        `json:"location"`
	VehicleClass VehicleClass `json:"vehicleType,omitempty"`
	RecordedAt   time.Time    `json:"recordedAt"`
}
