package db

import (
	"context"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// InsertTickets inserts tickets, silently skipping ones that already exist.
// Redelivered confirmation events re-issue nothing.
func (d *DB) InsertTickets(ctx context.Context, tickets []models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().
		Model(&tickets).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	return err
}

func (d *DB) TicketsByBooking(ctx context.Context, bookingID string) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("booking_id = ?", bookingID).
		Order("seat_id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return tickets, nil
}
