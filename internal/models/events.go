package models

import "time"

const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
)

// BookingEvent is the payload published to Kafka after booking transitions.
// Delivery is at-least-once; consumers must tolerate duplicates.
type BookingEvent struct {
	Type      string    `json:"type"`
	BookingID string    `json:"booking_id"`
	ShowingID string    `json:"showing_id"`
	UserID    string    `json:"user_id"`
	SeatIDs   []string  `json:"seat_ids"`
	Timestamp time.Time `json:"timestamp"`
}
