package db

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

// Migrate creates the core tables if they do not exist. Development and test
// bootstrap; production schemas run through the SQL migration runner.
func Migrate(db *bun.DB) {
	ctx := context.Background()

	tables := []interface{}{
		(*models.Showing)(nil),
		(*models.SeatRow)(nil),
		(*models.Booking)(nil),
		(*models.Ticket)(nil),
	}

	for _, table := range tables {
		if _, err := db.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
			log.Fatalf("create table failed: %v", err)
		}
	}
}
