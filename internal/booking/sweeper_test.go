package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"ms-booking/internal/booking"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type MockOrphanReleaser struct {
	mock.Mock
}

func (m *MockOrphanReleaser) ReleaseOrphans(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func newTestSweeper() (*booking.Sweeper, *MockDBLayer, *MockOrphanReleaser, *MockHoldCache) {
	mockDB := new(MockDBLayer)
	mockSeats := new(MockOrphanReleaser)
	mockCache := new(MockHoldCache)
	sweeper := booking.NewSweeper(mockDB, mockSeats, mockCache,
		10*time.Millisecond, 100, logger.NewTestLogger())
	return sweeper, mockDB, mockSeats, mockCache
}

func TestSweepExpiresOverdueBookings(t *testing.T) {
	sweeper, mockDB, mockSeats, mockCache := newTestSweeper()
	ctx := context.Background()

	overdue := []models.Booking{
		{BookingID: "b1", ShowingID: "s1", SeatIDs: []string{"A1"}, Status: models.BookingPendingPayment},
		{BookingID: "b2", ShowingID: "s1", SeatIDs: []string{"A2", "A3"}, Status: models.BookingPendingPayment},
	}
	mockDB.On("ListExpiredPending", ctx, mock.AnythingOfType("time.Time"), 100).Return(overdue, nil)
	mockDB.On("ReleaseToState", ctx, mock.AnythingOfType("*models.Booking"), models.BookingExpired).Return(nil)
	mockCache.On("Clear", ctx, "s1", mock.Anything, mock.AnythingOfType("string")).Return(nil)
	mockSeats.On("ReleaseOrphans", ctx).Return(int64(0), nil)

	sweeper.Sweep(ctx)

	mockDB.AssertNumberOfCalls(t, "ReleaseToState", 2)
	mockCache.AssertNumberOfCalls(t, "Clear", 2)
	mockSeats.AssertExpectations(t)
}

func TestSweepSkipsBookingsThatJustConfirmed(t *testing.T) {
	sweeper, mockDB, mockSeats, mockCache := newTestSweeper()
	ctx := context.Background()

	// The webhook confirmed b1 between the list and the expiry CAS.
	overdue := []models.Booking{
		{BookingID: "b1", ShowingID: "s1", SeatIDs: []string{"A1"}, Status: models.BookingPendingPayment},
	}
	mockDB.On("ListExpiredPending", ctx, mock.AnythingOfType("time.Time"), 100).Return(overdue, nil)
	mockDB.On("ReleaseToState", ctx, mock.AnythingOfType("*models.Booking"), models.BookingExpired).
		Return(bookingdb.ErrStaleBooking)
	mockSeats.On("ReleaseOrphans", ctx).Return(int64(0), nil)

	sweeper.Sweep(ctx)

	// Losing the race is silent: no hold mirror touch for that booking.
	mockCache.AssertNotCalled(t, "Clear", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepFreesOrphanedHolds(t *testing.T) {
	sweeper, mockDB, mockSeats, _ := newTestSweeper()
	ctx := context.Background()

	mockDB.On("ListExpiredPending", ctx, mock.AnythingOfType("time.Time"), 100).
		Return([]models.Booking{}, nil)
	mockSeats.On("ReleaseOrphans", ctx).Return(int64(3), nil)

	sweeper.Sweep(ctx)

	mockSeats.AssertCalled(t, "ReleaseOrphans", ctx)
}

func TestSweepContinuesPastListError(t *testing.T) {
	sweeper, mockDB, mockSeats, _ := newTestSweeper()
	ctx := context.Background()

	mockDB.On("ListExpiredPending", ctx, mock.AnythingOfType("time.Time"), 100).
		Return(nil, errors.New("connection refused"))
	mockSeats.On("ReleaseOrphans", ctx).Return(int64(0), nil)

	sweeper.Sweep(ctx)

	// A failed listing must not stop the orphan pass.
	mockSeats.AssertCalled(t, "ReleaseOrphans", ctx)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sweeper, mockDB, mockSeats, _ := newTestSweeper()

	mockDB.On("ListExpiredPending", mock.Anything, mock.AnythingOfType("time.Time"), 100).
		Return([]models.Booking{}, nil)
	mockSeats.On("ReleaseOrphans", mock.Anything).Return(int64(0), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
