package seatmap

import (
	"fmt"
	"strings"
)

// SeatsUnavailableError names exactly the requested seats that were not free,
// so the caller can offer a precise re-selection.
type SeatsUnavailableError struct {
	ShowingID string
	Seats     []string
}

func (e *SeatsUnavailableError) Error() string {
	return fmt.Sprintf("seats unavailable for showing %s: %s", e.ShowingID, strings.Join(e.Seats, ", "))
}

// InvariantViolationError means a commit was attempted on a seat not held by
// the expected booking. It signals a bug or broken disjointness and must be
// surfaced, never swallowed.
type InvariantViolationError struct {
	ShowingID string
	BookingID string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("seat map invariant violated for showing %s, booking %s: %s",
		e.ShowingID, e.BookingID, e.Detail)
}
