package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ms-booking/internal/booking/db"
	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/seatmap"
	"ms-booking/internal/showing"
)

type DBLayer interface {
	CreateBooking(ctx context.Context, b models.Booking) error
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByPaymentRef(ctx context.Context, ref string) (*models.Booking, error)
	SetPaymentRef(ctx context.Context, id, ref string) error
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	MarkReconciliation(ctx context.Context, id string) error
	ConfirmPaid(ctx context.Context, b *models.Booking) error
	ReleaseToState(ctx context.Context, b *models.Booking, to models.BookingStatus) error
}

// SeatMap is the slice of the seat store the reservation path needs directly.
// Releases and commits always travel through DBLayer so they share the
// booking-status transaction.
type SeatMap interface {
	TryHold(ctx context.Context, showingID string, seatIDs []string, bookingID string) error
}

type HoldCache interface {
	AnyHeld(ctx context.Context, showingID string, seatIDs []string, bookingID string) ([]string, error)
	MirrorHold(ctx context.Context, showingID string, seatIDs []string, bookingID string, ttl time.Duration) error
	Clear(ctx context.Context, showingID string, seatIDs []string, bookingID string) error
}

type ShowingLookup interface {
	Get(ctx context.Context, showingID string) (*models.Showing, error)
}

type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, bookingID string, amount float64, currency string) (string, error)
}

type Publisher interface {
	Publish(topic string, key string, value []byte) error
}

// Service is the reservation engine: it validates a seat request against the
// showing, holds the seats, persists the pending booking and opens a payment
// intent. It also drives the confirmation state machine (confirm.go) and
// backs the expiry sweeper (sweeper.go).
type Service struct {
	DB       DBLayer
	Seats    SeatMap
	Cache    HoldCache
	Showings ShowingLookup
	Gateway  PaymentGateway
	Kafka    Publisher
	Topics   config.TopicConfig
	Cfg      config.BookingConfig
	Currency string
	Log      *logger.Logger
}

func NewService(dbl DBLayer, seats SeatMap, cache HoldCache, showings ShowingLookup,
	gateway PaymentGateway, kafka Publisher, topics config.TopicConfig,
	cfg config.BookingConfig, currency string, log *logger.Logger) *Service {
	return &Service{
		DB:       dbl,
		Seats:    seats,
		Cache:    cache,
		Showings: showings,
		Gateway:  gateway,
		Kafka:    kafka,
		Topics:   topics,
		Cfg:      cfg,
		Currency: currency,
		Log:      log,
	}
}

// Reserve holds the requested seats for the user and opens a payment intent.
// On any failure past the hold, the hold is rolled back before returning: a
// held seat never outlives a failed reservation attempt.
func (s *Service) Reserve(ctx context.Context, req models.ReservationRequest) (*models.ReservationResponse, error) {
	if err := validateSeatSelection(req.SeatIDs); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, &InvalidRequestError{Reason: "user_id is required"}
	}

	show, err := s.Showings.Get(ctx, req.ShowingID)
	if errors.Is(err, showing.ErrNotFound) {
		return nil, &InvalidRequestError{Reason: fmt.Sprintf("showing %s not found", req.ShowingID)}
	}
	if err != nil {
		return nil, fmt.Errorf("look up showing: %w", err)
	}
	if !show.StartsAt.After(time.Now()) {
		return nil, &InvalidRequestError{Reason: "showing has already started"}
	}
	for _, seatID := range req.SeatIDs {
		if !show.HasSeat(seatID) {
			return nil, &InvalidRequestError{Reason: fmt.Sprintf("seat %s does not exist in this showing", seatID)}
		}
	}

	total := float64(len(req.SeatIDs)) * show.Price

	// Cheap mirror check before touching Postgres. Misses are fine, the
	// authoritative hold below decides.
	if held, err := s.Cache.AnyHeld(ctx, req.ShowingID, req.SeatIDs, ""); err != nil {
		s.Log.Warn("BOOKING", fmt.Sprintf("Hold mirror check failed: %v", err))
	} else if len(held) > 0 {
		return nil, &seatmap.SeatsUnavailableError{ShowingID: req.ShowingID, Seats: held}
	}

	now := time.Now()
	b := models.Booking{
		BookingID:     uuid.NewString(),
		ShowingID:     req.ShowingID,
		UserID:        req.UserID,
		SeatIDs:       req.SeatIDs,
		Status:        models.BookingPendingPayment,
		TotalPrice:    total,
		CreatedAt:     now,
		HoldExpiresAt: now.Add(s.Cfg.HoldTTL),
	}

	// The booking row goes in before the hold, so a crash mid-reserve leaves
	// a record the orphan sweep can resolve instead of a seat locked forever.
	if err := s.DB.CreateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	if err := s.Seats.TryHold(ctx, b.ShowingID, b.SeatIDs, b.BookingID); err != nil {
		if relErr := s.DB.ReleaseToState(ctx, &b, models.BookingFailed); relErr != nil {
			s.Log.Error("BOOKING", fmt.Sprintf("Failed to close booking %s after hold conflict: %v", b.BookingID, relErr))
		}
		var unavail *seatmap.SeatsUnavailableError
		if errors.As(err, &unavail) {
			s.Log.LogSeatMap("CONFLICT", b.ShowingID,
				fmt.Sprintf("booking %s lost seats: %v", b.BookingID, unavail.Seats))
			return nil, unavail
		}
		return nil, fmt.Errorf("hold seats: %w", err)
	}

	if err := s.Cache.MirrorHold(ctx, b.ShowingID, b.SeatIDs, b.BookingID, s.Cfg.HoldTTL); err != nil {
		s.Log.Warn("BOOKING", fmt.Sprintf("Failed to mirror hold for booking %s: %v", b.BookingID, err))
	}

	ref, err := s.createIntentWithRetry(ctx, b.BookingID, total)
	if err != nil {
		s.rollbackReservation(ctx, &b)
		return nil, err
	}

	if err := s.DB.SetPaymentRef(ctx, b.BookingID, ref); err != nil {
		s.rollbackReservation(ctx, &b)
		return nil, fmt.Errorf("store payment reference: %w", err)
	}
	b.PaymentRef = ref

	s.publishEvent(models.EventBookingCreated, s.Topics.BookingCreated, &b)
	s.Log.LogBooking("RESERVE", b.BookingID,
		fmt.Sprintf("%d seats held for showing %s, total %.2f", len(b.SeatIDs), b.ShowingID, total))

	return &models.ReservationResponse{
		BookingID:     b.BookingID,
		PaymentRef:    ref,
		TotalPrice:    total,
		HoldExpiresAt: b.HoldExpiresAt,
	}, nil
}

func (s *Service) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.DB.GetBookingByID(ctx, id)
}

func (s *Service) createIntentWithRetry(ctx context.Context, bookingID string, amount float64) (string, error) {
	backoff := s.Cfg.GatewayRetryBackoff
	var lastErr error
	for attempt := 1; attempt <= s.Cfg.GatewayMaxAttempts; attempt++ {
		ref, err := s.Gateway.CreatePaymentIntent(ctx, bookingID, amount, s.Currency)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		s.Log.Warn("PAYMENT", fmt.Sprintf("Payment intent attempt %d/%d for booking %s failed: %v",
			attempt, s.Cfg.GatewayMaxAttempts, bookingID, err))
		if attempt < s.Cfg.GatewayMaxAttempts {
			select {
			case <-ctx.Done():
				return "", &GatewayError{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return "", &GatewayError{Attempts: s.Cfg.GatewayMaxAttempts, Err: lastErr}
}

// rollbackReservation releases the seats and closes the booking as failed.
// A sweeper that won the race meanwhile is fine; the booking is terminal
// either way.
func (s *Service) rollbackReservation(ctx context.Context, b *models.Booking) {
	if err := s.DB.ReleaseToState(ctx, b, models.BookingFailed); err != nil {
		if errors.Is(err, db.ErrStaleBooking) {
			s.Log.Warn("BOOKING", fmt.Sprintf("Booking %s already transitioned during rollback", b.BookingID))
		} else {
			s.Log.Error("BOOKING", fmt.Sprintf("Rollback of booking %s failed: %v", b.BookingID, err))
		}
	}
	if err := s.Cache.Clear(ctx, b.ShowingID, b.SeatIDs, b.BookingID); err != nil {
		s.Log.Warn("BOOKING", fmt.Sprintf("Failed to clear hold mirror for booking %s: %v", b.BookingID, err))
	}
	s.Log.LogBooking("ROLLBACK", b.BookingID, "reservation rolled back, seats released")
}

func (s *Service) publishEvent(eventType, topic string, b *models.Booking) {
	if s.Kafka == nil {
		return
	}
	event := models.BookingEvent{
		Type:      eventType,
		BookingID: b.BookingID,
		ShowingID: b.ShowingID,
		UserID:    b.UserID,
		SeatIDs:   b.SeatIDs,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		s.Log.Error("KAFKA", fmt.Sprintf("Failed to marshal %s event: %v", eventType, err))
		return
	}
	if err := s.Kafka.Publish(topic, b.BookingID, data); err != nil {
		s.Log.Error("KAFKA", fmt.Sprintf("Failed to publish %s for booking %s: %v", eventType, b.BookingID, err))
		return
	}
	s.Log.LogKafka("PUBLISH", topic, fmt.Sprintf("%s for booking %s", eventType, b.BookingID))
}

func validateSeatSelection(seatIDs []string) error {
	if len(seatIDs) == 0 {
		return &InvalidRequestError{Reason: "seat_ids must not be empty"}
	}
	seen := make(map[string]bool, len(seatIDs))
	for _, seatID := range seatIDs {
		if seatID == "" {
			return &InvalidRequestError{Reason: "seat_ids contains an empty seat id"}
		}
		if seen[seatID] {
			return &InvalidRequestError{Reason: fmt.Sprintf("seat %s requested twice", seatID)}
		}
		seen[seatID] = true
	}
	return nil
}
