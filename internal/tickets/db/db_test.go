package db_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"

	"ms-booking/internal/models"
	"ms-booking/internal/tickets/db"
)

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	// Connect to an in-memory SQLite DB for testing
	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = bunDB.NewCreateTable().Model((*models.Ticket)(nil)).Exec(context.Background())
	if err != nil {
		t.Fatalf("Failed to create ticket table: %v", err)
	}

	return &db.DB{Bun: bunDB}, bunDB
}

func testTicket(bookingID, seatID string) models.Ticket {
	return models.Ticket{
		BookingID: bookingID,
		SeatID:    seatID,
		ShowingID: "showing-1",
		UserID:    "user123",
		QRCode:    "dGVzdC1xcg==",
		IssuedAt:  time.Now(),
	}
}

func TestInsertAndFetchTickets(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	bookingID := uuid.New().String()
	batch := []models.Ticket{
		testTicket(bookingID, "A1"),
		testTicket(bookingID, "A2"),
	}

	require.NoError(t, ticketDB.InsertTickets(ctx, batch))

	got, err := ticketDB.TicketsByBooking(ctx, bookingID)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "A1", got[0].SeatID)
	assert.Equal(t, "A2", got[1].SeatID)
}

func TestInsertTicketsIsIdempotent(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	defer bunDB.Close()
	ctx := context.Background()

	bookingID := uuid.New().String()
	batch := []models.Ticket{testTicket(bookingID, "A1")}

	// A redelivered confirmation event re-inserts the same tickets.
	require.NoError(t, ticketDB.InsertTickets(ctx, batch))
	require.NoError(t, ticketDB.InsertTickets(ctx, batch))

	got, err := ticketDB.TicketsByBooking(ctx, bookingID)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTicketsByBookingEmpty(t *testing.T) {
	ticketDB, bunDB := setupTestDB(t)
	defer bunDB.Close()

	got, err := ticketDB.TicketsByBooking(context.Background(), "no-such-booking")
	require.NoError(t, err)
	assert.Empty(t, got)
}
