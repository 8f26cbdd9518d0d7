package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
	"ms-booking/internal/seatmap"
)

var (
	ErrNotFound = errors.New("booking not found")

	// ErrStaleBooking means a compare-and-swap on booking status matched no
	// row: a concurrent writer already transitioned the booking. Callers
	// re-read and decide from the fresh terminal state.
	ErrStaleBooking = errors.New("booking was transitioned by a concurrent writer")
)

// DB persists bookings and composes booking-state transitions with seat-map
// transitions in a single transaction, so a booking can never be observed
// paid while its seats are still held.
type DB struct {
	Bun   *bun.DB
	Seats *seatmap.Store
}

func New(bunDB *bun.DB, seats *seatmap.Store) *DB {
	return &DB{Bun: bunDB, Seats: seats}
}

func (d *DB) CreateBooking(ctx context.Context, b models.Booking) error {
	_, err := d.Bun.NewInsert().Model(&b).Exec(ctx)
	return err
}

func (d *DB) GetBookingByID(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("booking_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *DB) GetBookingByPaymentRef(ctx context.Context, ref string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("payment_ref = ?", ref).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (d *DB) SetPaymentRef(ctx context.Context, id, ref string) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("payment_ref = ?", ref).
		Where("booking_id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiredPending returns pending bookings whose payment window elapsed
// before the cutoff, oldest expiry first.
func (d *DB) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	var bookings []models.Booking
	err := d.Bun.NewSelect().
		Model(&bookings).
		Where("status = ?", models.BookingPendingPayment).
		Where("hold_expires_at <= ?", cutoff).
		Order("hold_expires_at").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

func (d *DB) MarkReconciliation(ctx context.Context, id string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("needs_reconciliation = ?", true).
		Where("booking_id = ?", id).
		Exec(ctx)
	return err
}

// ConfirmPaid transitions a booking pending_payment→paid and its seats
// held→occupied in one transaction. Returns ErrStaleBooking if the booking
// is no longer pending, or the seat map's InvariantViolationError if a seat
// is not held by this booking; either way nothing is committed.
func (d *DB) ConfirmPaid(ctx context.Context, b *models.Booking) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := d.casStatus(ctx, tx, b.BookingID, models.BookingPendingPayment, models.BookingPaid); err != nil {
			return err
		}
		return d.Seats.WithTx(tx).Commit(ctx, b.ShowingID, b.SeatIDs, b.BookingID)
	})
}

// ReleaseToState transitions a booking pending_payment→to (failed or
// expired) and frees its held seats in one transaction.
func (d *DB) ReleaseToState(ctx context.Context, b *models.Booking, to models.BookingStatus) error {
	if !to.Terminal() {
		return fmt.Errorf("release target %s is not terminal", to)
	}
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := d.casStatus(ctx, tx, b.BookingID, models.BookingPendingPayment, to); err != nil {
			return err
		}
		return d.Seats.WithTx(tx).Release(ctx, b.ShowingID, b.SeatIDs, b.BookingID)
	})
}

func (d *DB) casStatus(ctx context.Context, tx bun.Tx, id string, from, to models.BookingStatus) error {
	res, err := tx.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", to).
		Where("booking_id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleBooking
	}
	return nil
}
