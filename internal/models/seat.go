package models

import "github.com/uptrace/bun"

type SeatState string

const (
	SeatFree     SeatState = "free"
	SeatHeld     SeatState = "held"
	SeatOccupied SeatState = "occupied"
)

// SeatRow is one seat of one showing. Every state change is a guarded UPDATE
// on (showing_id, seat_id, status, booking_id) so concurrent writers can never
// move the same seat twice.
type SeatRow struct {
	bun.BaseModel `bun:"table:showing_seats"`

	ShowingID string    `bun:"showing_id,pk" json:"showing_id"`
	SeatID    string    `bun:"seat_id,pk" json:"seat_id"`
	Status    SeatState `bun:"status" json:"status"`
	BookingID string    `bun:"booking_id,nullzero" json:"booking_id,omitempty"`
}
