// Package ride implements the ride lifecycle state machine:
//
//	pending -> {accepted, cancelled}
//	accepted -> {ongoing, cancelled}
//	ongoing -> {completed, cancelled}
//
// completed and cancelled are terminal. Every transition is a conditional
// update keyed on the expected prior status, so two drivers racing to accept
// the same ride produce exactly one winner.
package ride

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/example/ride-hailing/internal/fare"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/routing"
)

var (
	// ErrValidation: bad or missing input, user-correctable.
	ErrValidation = errors.New("missing required ride fields")
	// ErrFareUnavailable: no computable fare for the requested vehicle class.
	ErrFareUnavailable = errors.New("fare unavailable for vehicle class")
	// ErrRideNotFound: the referenced ride id does not exist.
	ErrRideNotFound = errors.New("ride not found")
	// ErrRideUnavailable: the ride already left the state this operation
	// expects, most commonly a lost acceptance race. Expected, not a bug.
	ErrRideUnavailable = errors.New("ride is no longer available")
	// ErrInvalidPasscode: trip-start authorization failure.
	ErrInvalidPasscode = errors.New("invalid passcode")
	// ErrPersistence: storage round trip failed; retryable.
	ErrPersistence = errors.New("persistence failure")
)

type Service struct {
	Store  Store
	Fares  *fare.Estimator
	Routes routing.Client
	Logger *slog.Logger

	now func() time.Time
}

func NewService(store Store, fares *fare.Estimator, routes routing.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Store: store, Fares: fares, Routes: routes, Logger: logger, now: time.Now}
}

type CreateRequest struct {
	RiderID      string
	RiderName    string
	Pickup       string
	Destination  string
	VehicleClass models.VehicleClass
}

// Create validates the request, prices the requested class, generates the
// trip-start passcode and persists the ride as pending.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Ride, error) {
	if strings.TrimSpace(req.RiderID) == "" ||
		strings.TrimSpace(req.Pickup) == "" ||
		strings.TrimSpace(req.Destination) == "" ||
		req.VehicleClass == "" {
		return nil, ErrValidation
	}

	fares, err := s.Fares.Fares(ctx, req.Pickup, req.Destination)
	if err != nil {
		if errors.Is(err, fare.ErrInvalidInput) {
			return nil, ErrValidation
		}
		return nil, err
	}
	amount, ok := fares[req.VehicleClass]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFareUnavailable, req.VehicleClass)
	}

	passcode, err := newPasscode(4)
	if err != nil {
		return nil, fmt.Errorf("generate passcode: %w", err)
	}

	now := s.now()
	r := &models.Ride{
		ID:           newID(),
		RiderID:      req.RiderID,
		RiderName:    req.RiderName,
		Pickup:       req.Pickup,
		Destination:  req.Destination,
		VehicleClass: req.VehicleClass,
		Fare:         amount,
		Passcode:     passcode,
		Status:       models.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.CreateRide(ctx, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	observability.RidesCreatedTotal.Inc()
	return r, nil
}

// Claim atomically assigns the driver to a still-pending ride. The loser of a
// concurrent claim gets ErrRideUnavailable, never a silent no-op.
//
// The trip estimate is resolved before the conditional update so it lands in
// the same write, but a routing outage must not block acceptance: on error the
// ride is claimed with zero estimates and the figures are recomputed later.
func (s *Service) Claim(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	if strings.TrimSpace(rideID) == "" || strings.TrimSpace(driverID) == "" {
		return nil, ErrValidation
	}
	current, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, storeErr(err)
	}

	var trip models.TripEstimate
	if s.Routes != nil {
		if route, err := s.Routes.DistanceTime(ctx, current.Pickup, current.Destination); err != nil {
			s.Logger.Warn("trip estimate unavailable at claim time", "ride_id", rideID, "error", err)
		} else {
			trip = models.TripEstimate{
				DurationMin:  route.Minutes(),
				DurationText: route.DurationText,
				DistanceKm:   route.DistanceKm,
			}
		}
	}

	claimed, ok, err := s.Store.ClaimPending(ctx, rideID, driverID, trip, s.now())
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		observability.ClaimsTotal.WithLabelValues(observability.ClaimLost).Inc()
		return nil, ErrRideUnavailable
	}
	observability.ClaimsTotal.WithLabelValues(observability.ClaimWon).Inc()
	return claimed, nil
}

// Start authorizes the trip with the rider's passcode and moves
// accepted -> ongoing. A wrong passcode never mutates the ride.
func (s *Service) Start(ctx context.Context, rideID, passcode string) (*models.Ride, error) {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, storeErr(err)
	}
	if passcode != r.Passcode {
		return nil, ErrInvalidPasscode
	}
	updated, ok, err := s.Store.TransitionStatus(ctx, rideID, models.StatusAccepted, models.StatusOngoing, s.now())
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, ErrRideUnavailable
	}
	return updated, nil
}

// Complete moves ongoing -> completed.
func (s *Service) Complete(ctx context.Context, rideID string) (*models.Ride, error) {
	updated, ok, err := s.Store.TransitionStatus(ctx, rideID, models.StatusOngoing, models.StatusCompleted, s.now())
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, ErrRideUnavailable
	}
	return updated, nil
}

// Cancel moves any non-terminal ride to cancelled. Cancelling a ride that is
// already terminal is an idempotent no-op returning the current record.
//
// The retry loop resolves claim-vs-cancel races: when the conditional update
// misses because another transition committed first, the ride is re-read and
// either cancelled from its new status or returned as-is if now terminal.
// Statuses only move forward, so this settles within a few attempts.
func (s *Service) Cancel(ctx context.Context, rideID string) (*models.Ride, error) {
	for attempt := 0; attempt < 4; attempt++ {
		r, err := s.Store.GetRide(ctx, rideID)
		if err != nil {
			return nil, storeErr(err)
		}
		if r.Status.Terminal() {
			return r, nil
		}
		updated, ok, err := s.Store.TransitionStatus(ctx, rideID, r.Status, models.StatusCancelled, s.now())
		if err != nil {
			return nil, storeErr(err)
		}
		if ok {
			return updated, nil
		}
	}
	return nil, ErrRideUnavailable
}

func (s *Service) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, storeErr(err)
	}
	return r, nil
}

// RiderHistory returns the rider's terminal rides, newest first.
func (s *Service) RiderHistory(ctx context.Context, riderID string) ([]*models.Ride, error) {
	rides, err := s.Store.ListRiderRides(ctx, riderID)
	if err != nil {
		return nil, storeErr(err)
	}
	return rides, nil
}

// DriverEarnings is the driver-history analytics payload.
type DriverEarnings struct {
	Rides         []*models.Ride `json:"rides"`
	TotalRides    int            `json:"totalRides"`
	TotalEarnings int64          `json:"totalEarnings"`
}

// DriverHistory returns the driver's terminal rides plus earnings totals.
// Cancelled rides count toward history but not earnings.
func (s *Service) DriverHistory(ctx context.Context, driverID string) (*DriverEarnings, error) {
	rides, err := s.Store.ListDriverRides(ctx, driverID)
	if err != nil {
		return nil, storeErr(err)
	}
	out := &DriverEarnings{Rides: rides, TotalRides: len(rides)}
	for _, r := range rides {
		if r.Status == models.StatusCompleted {
			out.TotalEarnings += r.Fare
		}
	}
	return out, nil
}

// storeErr keeps sentinel errors intact and wraps everything else as a
// persistence failure so callers never see driver-level errors.
func storeErr(err error) error {
	if errors.Is(err, ErrRideNotFound) {
		return ErrRideNotFound
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// newPasscode draws n uniform digits from crypto/rand. Leading zeros are
// allowed; the passcode is a string, not a number.
func newPasscode(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + d.Int64()))
	}
	return sb.String(), nil
}
