package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/booking/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type OrphanReleaser interface {
	ReleaseOrphans(ctx context.Context) (int64, error)
}

// Sweeper expires pending bookings whose payment window elapsed, releasing
// their seats. It contends with the confirmation state machine through the
// same status compare-and-swap: whichever writer lands first wins, the other
// observes the terminal state and moves on.
type Sweeper struct {
	DB        DBLayer
	Seats     OrphanReleaser
	Cache     HoldCache
	Interval  time.Duration
	BatchSize int
	Log       *logger.Logger
}

func NewSweeper(dbl DBLayer, seats OrphanReleaser, cache HoldCache,
	interval time.Duration, batchSize int, log *logger.Logger) *Sweeper {
	return &Sweeper{
		DB:        dbl,
		Seats:     seats,
		Cache:     cache,
		Interval:  interval,
		BatchSize: batchSize,
		Log:       log,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.Log.LogSweeper(fmt.Sprintf("Sweeping expired holds every %s", s.Interval))
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Log.LogSweeper("Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: expire overdue pending bookings, then free any
// orphaned holds left by crashes.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.DB.ListExpiredPending(ctx, time.Now(), s.BatchSize)
	if err != nil {
		s.Log.Error("SWEEPER", fmt.Sprintf("Failed to list expired bookings: %v", err))
	} else {
		s.Log.Debug("SWEEPER", fmt.Sprintf("%d bookings past their payment window", len(expired)))
		for i := range expired {
			s.expire(ctx, &expired[i])
		}
	}

	freed, err := s.Seats.ReleaseOrphans(ctx)
	if err != nil {
		s.Log.Error("SWEEPER", fmt.Sprintf("Orphan hold sweep failed: %v", err))
		return
	}
	if freed > 0 {
		s.Log.LogSweeper(fmt.Sprintf("Freed %d orphaned seat holds", freed))
	}
}

func (s *Sweeper) expire(ctx context.Context, b *models.Booking) {
	err := s.DB.ReleaseToState(ctx, b, models.BookingExpired)
	if errors.Is(err, db.ErrStaleBooking) {
		// A payment outcome landed first; nothing left to do here.
		return
	}
	if err != nil {
		s.Log.Error("SWEEPER", fmt.Sprintf("Failed to expire booking %s: %v", b.BookingID, err))
		return
	}
	if err := s.Cache.Clear(ctx, b.ShowingID, b.SeatIDs, b.BookingID); err != nil {
		s.Log.Warn("SWEEPER", fmt.Sprintf("Failed to clear hold mirror for booking %s: %v", b.BookingID, err))
	}
	s.Log.LogBooking("EXPIRE", b.BookingID,
		fmt.Sprintf("payment window elapsed, %d seats released", len(b.SeatIDs)))
}
