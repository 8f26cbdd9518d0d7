package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "pending_payment"
	BookingPaid           BookingStatus = "paid"
	BookingFailed         BookingStatus = "failed"
	BookingExpired        BookingStatus = "expired"
)

// Terminal reports whether no further transition can happen for the status.
func (s BookingStatus) Terminal() bool {
	return s == BookingPaid || s == BookingFailed || s == BookingExpired
}

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	BookingID           string        `bun:"booking_id,pk" json:"booking_id"`
	ShowingID           string        `bun:"showing_id" json:"showing_id"`
	UserID              string        `bun:"user_id" json:"user_id"`
	SeatIDs             []string      `bun:"seat_ids,array" json:"seat_ids"`
	Status              BookingStatus `bun:"status" json:"status"`
	TotalPrice          float64       `bun:"total_price" json:"total_price"`
	PaymentRef          string        `bun:"payment_ref,nullzero" json:"payment_ref,omitempty"`
	NeedsReconciliation bool          `bun:"needs_reconciliation" json:"needs_reconciliation"`
	CreatedAt           time.Time     `bun:"created_at" json:"created_at"`
	HoldExpiresAt       time.Time     `bun:"hold_expires_at" json:"hold_expires_at"`
}

type ReservationRequest struct {
	ShowingID string   `json:"showing_id"`
	UserID    string   `json:"user_id"`
	SeatIDs   []string `json:"seat_ids"`
}

type ReservationResponse struct {
	BookingID     string    `json:"booking_id"`
	PaymentRef    string    `json:"payment_ref"`
	TotalPrice    float64   `json:"total_price"`
	HoldExpiresAt time.Time `json:"hold_expires_at"`
}

// PaymentOutcome is the normalized result of a verified gateway notification.
type PaymentOutcome string

const (
	OutcomeSuccess PaymentOutcome = "success"
	OutcomeFailure PaymentOutcome = "failure"
)
