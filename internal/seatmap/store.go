package seatmap

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

// Store is the authoritative seat map. Every transition is a guarded batch
// UPDATE so two writers can never move the same seat: free→held on reserve,
// held→occupied on payment success, held→free on failure or expiry.
type Store struct {
	db bun.IDB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a view of the store scoped to an open transaction, so seat
// transitions can commit atomically with booking-state changes.
func (s *Store) WithTx(tx bun.Tx) *Store {
	return &Store{db: tx}
}

// TryHold moves all requested seats free→held for bookingID, or none of them.
// On contention it returns a SeatsUnavailableError listing the seats that were
// not free.
func (s *Store) TryHold(ctx context.Context, showingID string, seatIDs []string, bookingID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.SeatRow)(nil)).
			Set("status = ?", models.SeatHeld).
			Set("booking_id = ?", bookingID).
			Where("showing_id = ?", showingID).
			Where("seat_id IN (?)", bun.In(seatIDs)).
			Where("status = ?", models.SeatFree).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("hold seats: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if int(affected) == len(seatIDs) {
			return nil
		}

		// Name the conflicting seats, then roll back the partial hold.
		var taken []string
		err = tx.NewSelect().
			Model((*models.SeatRow)(nil)).
			Column("seat_id").
			Where("showing_id = ?", showingID).
			Where("seat_id IN (?)", bun.In(seatIDs)).
			Where("status != ?", models.SeatFree).
			Where("booking_id != ?", bookingID).
			Order("seat_id").
			Scan(ctx, &taken)
		if err != nil {
			return fmt.Errorf("list conflicting seats: %w", err)
		}
		if len(taken) == 0 {
			taken = seatIDs
		}
		return &SeatsUnavailableError{ShowingID: showingID, Seats: taken}
	})
}

// Release moves seats held by bookingID back to free. Seats already free or
// owned by another booking are left alone; release must be safe to repeat.
func (s *Store) Release(ctx context.Context, showingID string, seatIDs []string, bookingID string) error {
	_, err := s.db.NewUpdate().
		Model((*models.SeatRow)(nil)).
		Set("status = ?", models.SeatFree).
		Set("booking_id = NULL").
		Where("showing_id = ?", showingID).
		Where("seat_id IN (?)", bun.In(seatIDs)).
		Where("status = ?", models.SeatHeld).
		Where("booking_id = ?", bookingID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release seats: %w", err)
	}
	return nil
}

// Commit moves seats held by bookingID to occupied. If any seat is not held
// by that booking the whole commit fails with an InvariantViolationError.
func (s *Store) Commit(ctx context.Context, showingID string, seatIDs []string, bookingID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.SeatRow)(nil)).
			Set("status = ?", models.SeatOccupied).
			Where("showing_id = ?", showingID).
			Where("seat_id IN (?)", bun.In(seatIDs)).
			Where("status = ?", models.SeatHeld).
			Where("booking_id = ?", bookingID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("commit seats: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if int(affected) != len(seatIDs) {
			return &InvariantViolationError{
				ShowingID: showingID,
				BookingID: bookingID,
				Detail:    fmt.Sprintf("expected %d held seats, matched %d", len(seatIDs), affected),
			}
		}
		return nil
	})
}

// Seats lists the seat map of a showing ordered by seat identifier.
func (s *Store) Seats(ctx context.Context, showingID string) ([]models.SeatRow, error) {
	var seats []models.SeatRow
	err := s.db.NewSelect().
		Model(&seats).
		Where("showing_id = ?", showingID).
		Order("seat_id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return seats, nil
}

// ReleaseOrphans frees held seats whose owning booking is gone or already
// terminal. It backstops a crash between acquiring a hold and resolving the
// booking, so a seat can never stay locked forever.
func (s *Store) ReleaseOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.NewUpdate().
		Model((*models.SeatRow)(nil)).
		Set("status = ?", models.SeatFree).
		Set("booking_id = NULL").
		Where("status = ?", models.SeatHeld).
		Where("booking_id NOT IN (SELECT booking_id FROM bookings WHERE status = ?)", models.BookingPendingPayment).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("release orphan holds: %w", err)
	}
	return res.RowsAffected()
}
