package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/booking"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/seatmap"
	"ms-booking/internal/showing"
)

// Mock implementations
type MockDBLayer struct {
	mock.Mock
}

func (m *MockDBLayer) CreateBooking(ctx context.Context, b models.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockDBLayer) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockDBLayer) GetBookingByPaymentRef(ctx context.Context, ref string) (*models.Booking, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *MockDBLayer) SetPaymentRef(ctx context.Context, id, ref string) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

func (m *MockDBLayer) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Booking), args.Error(1)
}

func (m *MockDBLayer) MarkReconciliation(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDBLayer) ConfirmPaid(ctx context.Context, b *models.Booking) error {
	args := m.Called(ctx, b)
	return args.Error(0)
}

func (m *MockDBLayer) ReleaseToState(ctx context.Context, b *models.Booking, to models.BookingStatus) error {
	args := m.Called(ctx, b, to)
	return args.Error(0)
}

type MockSeatMap struct {
	mock.Mock
}

func (m *MockSeatMap) TryHold(ctx context.Context, showingID string, seatIDs []string, bookingID string) error {
	args := m.Called(ctx, showingID, seatIDs, bookingID)
	return args.Error(0)
}

type MockHoldCache struct {
	mock.Mock
}

func (m *MockHoldCache) AnyHeld(ctx context.Context, showingID string, seatIDs []string, bookingID string) ([]string, error) {
	args := m.Called(ctx, showingID, seatIDs, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockHoldCache) MirrorHold(ctx context.Context, showingID string, seatIDs []string, bookingID string, ttl time.Duration) error {
	args := m.Called(ctx, showingID, seatIDs, bookingID, ttl)
	return args.Error(0)
}

func (m *MockHoldCache) Clear(ctx context.Context, showingID string, seatIDs []string, bookingID string) error {
	args := m.Called(ctx, showingID, seatIDs, bookingID)
	return args.Error(0)
}

type MockShowings struct {
	mock.Mock
}

func (m *MockShowings) Get(ctx context.Context, showingID string) (*models.Showing, error) {
	args := m.Called(ctx, showingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Showing), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePaymentIntent(ctx context.Context, bookingID string, amount float64, currency string) (string, error) {
	args := m.Called(ctx, bookingID, amount, currency)
	return args.String(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, key string, value []byte) error {
	args := m.Called(topic, key, value)
	return args.Error(0)
}

type testMocks struct {
	DB       *MockDBLayer
	Seats    *MockSeatMap
	Cache    *MockHoldCache
	Showings *MockShowings
	Gateway  *MockGateway
	Kafka    *MockPublisher
}

func newTestService() (*booking.Service, *testMocks) {
	m := &testMocks{
		DB:       new(MockDBLayer),
		Seats:    new(MockSeatMap),
		Cache:    new(MockHoldCache),
		Showings: new(MockShowings),
		Gateway:  new(MockGateway),
		Kafka:    new(MockPublisher),
	}
	cfg := config.BookingConfig{
		HoldTTL:             15 * time.Minute,
		GatewayMaxAttempts:  3,
		GatewayRetryBackoff: time.Millisecond,
	}
	topics := config.TopicConfig{
		BookingCreated:   "booking-created",
		BookingConfirmed: "booking-confirmed",
	}
	svc := booking.NewService(m.DB, m.Seats, m.Cache, m.Showings, m.Gateway,
		m.Kafka, topics, cfg, "usd", logger.NewTestLogger())
	return svc, m
}

func futureShowing(showingID string, seats ...string) *models.Showing {
	return &models.Showing{
		ShowingID:  showingID,
		MovieID:    "movie123",
		Title:      "Test Movie",
		StartsAt:   time.Now().Add(2 * time.Hour),
		Price:      12.5,
		SeatLayout: seats,
		CreatedAt:  time.Now(),
	}
}

func TestReserveSuccess(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	showingID := uuid.New().String()
	seats := []string{"A1", "A2"}
	m.Showings.On("Get", ctx, showingID).Return(futureShowing(showingID, "A1", "A2", "A3"), nil)
	m.Cache.On("AnyHeld", ctx, showingID, seats, "").Return([]string(nil), nil)
	m.DB.On("CreateBooking", ctx, mock.AnythingOfType("models.Booking")).Return(nil)
	m.Seats.On("TryHold", ctx, showingID, seats, mock.AnythingOfType("string")).Return(nil)
	m.Cache.On("MirrorHold", ctx, showingID, seats, mock.AnythingOfType("string"), 15*time.Minute).Return(nil)
	m.Gateway.On("CreatePaymentIntent", ctx, mock.AnythingOfType("string"), 25.0, "usd").Return("pi_test_123", nil)
	m.DB.On("SetPaymentRef", ctx, mock.AnythingOfType("string"), "pi_test_123").Return(nil)
	m.Kafka.On("Publish", "booking-created", mock.AnythingOfType("string"), mock.Anything).Return(nil)

	resp, err := svc.Reserve(ctx, models.ReservationRequest{
		ShowingID: showingID,
		UserID:    "user123",
		SeatIDs:   seats,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, resp.BookingID)
	assert.Equal(t, "pi_test_123", resp.PaymentRef)
	assert.Equal(t, 25.0, resp.TotalPrice)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), resp.HoldExpiresAt, 5*time.Second)

	m.DB.AssertExpectations(t)
	m.Seats.AssertExpectations(t)
	m.Gateway.AssertExpectations(t)
	m.Kafka.AssertExpectations(t)
}

func TestReserveRejectsBadRequests(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	showingID := uuid.New().String()
	m.Showings.On("Get", ctx, showingID).Return(futureShowing(showingID, "A1"), nil)

	cases := []struct {
		name string
		req  models.ReservationRequest
	}{
		{"empty seats", models.ReservationRequest{ShowingID: showingID, UserID: "u1", SeatIDs: nil}},
		{"duplicate seat", models.ReservationRequest{ShowingID: showingID, UserID: "u1", SeatIDs: []string{"A1", "A1"}}},
		{"blank seat id", models.ReservationRequest{ShowingID: showingID, UserID: "u1", SeatIDs: []string{""}}},
		{"missing user", models.ReservationRequest{ShowingID: showingID, SeatIDs: []string{"A1"}}},
		{"seat not in layout", models.ReservationRequest{ShowingID: showingID, UserID: "u1", SeatIDs: []string{"Z9"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Reserve(ctx, tc.req)
			var invalid *booking.InvalidRequestError
			assert.ErrorAs(t, err, &invalid)
		})
	}

	// Validation failures never reach the database.
	m.DB.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestReserveUnknownShowing(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	m.Showings.On("Get", ctx, "missing").Return(nil, showing.ErrNotFound)

	_, err := svc.Reserve(ctx, models.ReservationRequest{
		ShowingID: "missing",
		UserID:    "user123",
		SeatIDs:   []string{"A1"},
	})

	var invalid *booking.InvalidRequestError
	assert.ErrorAs(t, err, &invalid)
}

func TestReserveRejectsStartedShowing(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	showingID := uuid.New().String()
	past := futureShowing(showingID, "A1")
	past.StartsAt = time.Now().Add(-time.Minute)
	m.Showings.On("Get", ctx, showingID).Return(past, nil)

	_, err := svc.Reserve(ctx, models.ReservationRequest{
		ShowingID: showingID,
		UserID:    "user123",
		SeatIDs:   []string{"A1"},
	})

	var invalid *booking.InvalidRequestError
	assert.ErrorAs(t, err, &invalid)
}

func TestReserveSeatConflictNamesSeats(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	showingID := uuid.New().String()
	seats := []string{"A1", "A2"}
	m.Showings.On("Get", ctx, showingID).Return(futureShowing(showingID, "A1", "A2"), nil)
	m.Cache.On("AnyHeld", ctx, showingID, seats, "").Return([]string(nil), nil)
	m.DB.On("CreateBooking", ctx, mock.AnythingOfType("models.Booking")).Return(nil)
	m.Seats.On("TryHold", ctx, showingID, seats, mock.AnythingOfType("string")).
		Return(&seatmap.SeatsUnavailableError{ShowingID: showingID, Seats: []string{"A2"}})
	m.DB.On("ReleaseToState", ctx, mock.AnythingOfType("*models.Booking"), models.BookingFailed).Return(nil)

	_, err := svc.Reserve(ctx, models.ReservationRequest{
		ShowingID: showingID,
		UserID:    "user123",
		SeatIDs:   seats,
	})

	var unavail *seatmap.SeatsUnavailableError
	require.ErrorAs(t, err, &unavail)
	assert.Equal(t, []string{"A2"}, unavail.Seats)

	// The losing booking is closed out, and no payment intent was opened.
	m.DB.AssertCalled(t, "ReleaseToState", ctx, mock.AnythingOfType("*models.Booking"), models.BookingFailed)
	m.Gateway.AssertNotCalled(t, "CreatePaymentIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReserveMirrorHitShortCircuits(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	showingID := uuid.New().String()
	seats := []string{"B1"}
	m.Showings.On("Get", ctx, showingID).Return(futureShowing(showingID, "B1"), nil)
	m.Cache.On("AnyHeld", ctx, showingID, seats, "").Return([]string{"B1"}, nil)

	_, err := svc.Reserve(ctx, models.ReservationRequest{
		ShowingID: showingID,
		UserID:    "user123",
		SeatIDs:   seats,
	})

	var unavail *seatmap.SeatsUnavailableError
	require.ErrorAs(t, err, &unavail)
	assert.Equal(t, []string{"B1"}, unavail.Seats)
	m.DB.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestReserveGatewayFailureRollsBackHold(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	showingID := uuid.New().String()
	seats := []string{"A1"}
	m.Showings.On("Get", ctx, showingID).Return(futureShowing(showingID, "A1"), nil)
	m.Cache.On("AnyHeld", ctx, showingID, seats, "").Return([]string(nil), nil)
	m.DB.On("CreateBooking", ctx, mock.AnythingOfType("models.Booking")).Return(nil)
	m.Seats.On("TryHold", ctx, showingID, seats, mock.AnythingOfType("string")).Return(nil)
	m.Cache.On("MirrorHold", ctx, showingID, seats, mock.AnythingOfType("string"), 15*time.Minute).Return(nil)
	m.Gateway.On("CreatePaymentIntent", ctx, mock.AnythingOfType("string"), 12.5, "usd").
		Return("", errors.New("stripe unavailable"))
	m.DB.On("ReleaseToState", ctx, mock.AnythingOfType("*models.Booking"), models.BookingFailed).Return(nil)
	m.Cache.On("Clear", ctx, showingID, seats, mock.AnythingOfType("string")).Return(nil)

	_, err := svc.Reserve(ctx, models.ReservationRequest{
		ShowingID: showingID,
		UserID:    "user123",
		SeatIDs:   seats,
	})

	var gwErr *booking.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 3, gwErr.Attempts)

	// Every attempt was made, then the hold was rolled back.
	m.Gateway.AssertNumberOfCalls(t, "CreatePaymentIntent", 3)
	m.DB.AssertCalled(t, "ReleaseToState", ctx, mock.AnythingOfType("*models.Booking"), models.BookingFailed)
	m.Cache.AssertCalled(t, "Clear", ctx, showingID, seats, mock.AnythingOfType("string"))
	m.Kafka.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestReserveGatewayRecoversOnRetry(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	showingID := uuid.New().String()
	seats := []string{"A1"}
	m.Showings.On("Get", ctx, showingID).Return(futureShowing(showingID, "A1"), nil)
	m.Cache.On("AnyHeld", ctx, showingID, seats, "").Return([]string(nil), nil)
	m.DB.On("CreateBooking", ctx, mock.AnythingOfType("models.Booking")).Return(nil)
	m.Seats.On("TryHold", ctx, showingID, seats, mock.AnythingOfType("string")).Return(nil)
	m.Cache.On("MirrorHold", ctx, showingID, seats, mock.AnythingOfType("string"), 15*time.Minute).Return(nil)
	m.Gateway.On("CreatePaymentIntent", ctx, mock.AnythingOfType("string"), 12.5, "usd").
		Return("", errors.New("transient")).Once()
	m.Gateway.On("CreatePaymentIntent", ctx, mock.AnythingOfType("string"), 12.5, "usd").
		Return("pi_retry_ok", nil).Once()
	m.DB.On("SetPaymentRef", ctx, mock.AnythingOfType("string"), "pi_retry_ok").Return(nil)
	m.Kafka.On("Publish", "booking-created", mock.AnythingOfType("string"), mock.Anything).Return(nil)

	resp, err := svc.Reserve(ctx, models.ReservationRequest{
		ShowingID: showingID,
		UserID:    "user123",
		SeatIDs:   seats,
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_retry_ok", resp.PaymentRef)
	m.Gateway.AssertNumberOfCalls(t, "CreatePaymentIntent", 2)
}

func TestReserveRollbackToleratesSweeperRace(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	showingID := uuid.New().String()
	seats := []string{"A1"}
	m.Showings.On("Get", ctx, showingID).Return(futureShowing(showingID, "A1"), nil)
	m.Cache.On("AnyHeld", ctx, showingID, seats, "").Return([]string(nil), nil)
	m.DB.On("CreateBooking", ctx, mock.AnythingOfType("models.Booking")).Return(nil)
	m.Seats.On("TryHold", ctx, showingID, seats, mock.AnythingOfType("string")).Return(nil)
	m.Cache.On("MirrorHold", ctx, showingID, seats, mock.AnythingOfType("string"), 15*time.Minute).Return(nil)
	m.Gateway.On("CreatePaymentIntent", ctx, mock.AnythingOfType("string"), 12.5, "usd").Return("pi_x", nil)
	m.DB.On("SetPaymentRef", ctx, mock.AnythingOfType("string"), "pi_x").Return(errors.New("connection reset"))
	m.DB.On("ReleaseToState", ctx, mock.AnythingOfType("*models.Booking"), models.BookingFailed).
		Return(bookingdb.ErrStaleBooking)
	m.Cache.On("Clear", ctx, showingID, seats, mock.AnythingOfType("string")).Return(nil)

	// The sweeper already closed the booking; rollback still succeeds quietly.
	_, err := svc.Reserve(ctx, models.ReservationRequest{
		ShowingID: showingID,
		UserID:    "user123",
		SeatIDs:   seats,
	})

	assert.Error(t, err)
	m.Cache.AssertCalled(t, "Clear", ctx, showingID, seats, mock.AnythingOfType("string"))
}

func TestGetBooking(t *testing.T) {
	svc, m := newTestService()
	ctx := context.Background()

	b := &models.Booking{BookingID: "b1", Status: models.BookingPendingPayment}
	m.DB.On("GetBookingByID", ctx, "b1").Return(b, nil)

	got, err := svc.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", got.BookingID)
}
