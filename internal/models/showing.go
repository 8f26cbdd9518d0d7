package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Showing struct {
	bun.BaseModel `bun:"table:showings"`

	ShowingID  string    `bun:"showing_id,pk" json:"showing_id"`
	MovieID    string    `bun:"movie_id" json:"movie_id"`
	Title      string    `bun:"title" json:"title"`
	StartsAt   time.Time `bun:"starts_at" json:"starts_at"`
	Price      float64   `bun:"price" json:"price"`
	SeatLayout []string  `bun:"seat_layout,array" json:"seat_layout"`
	CreatedAt  time.Time `bun:"created_at" json:"created_at"`
}

// HasSeat reports whether a seat identifier belongs to the showing's layout.
func (s *Showing) HasSeat(seatID string) bool {
	for _, id := range s.SeatLayout {
		if id == seatID {
			return true
		}
	}
	return false
}

type ShowingRequest struct {
	MovieID    string   `json:"movie_id"`
	Title      string   `json:"title"`
	StartsAt   string   `json:"starts_at"`
	Price      float64  `json:"price"`
	SeatLayout []string `json:"seat_layout"`
}
