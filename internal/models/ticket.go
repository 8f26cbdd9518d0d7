package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket is issued per seat once a booking is paid. The composite key makes
// re-issuing on a redelivered confirmation event a no-op.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	BookingID string    `bun:"booking_id,pk" json:"booking_id"`
	SeatID    string    `bun:"seat_id,pk" json:"seat_id"`
	ShowingID string    `bun:"showing_id" json:"showing_id"`
	UserID    string    `bun:"user_id" json:"user_id"`
	QRCode    string    `bun:"qr_code" json:"qr_code"`
	IssuedAt  time.Time `bun:"issued_at" json:"issued_at"`
}
