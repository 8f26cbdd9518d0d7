package booking

import (
	"errors"
	"fmt"

	"ms-booking/internal/models"
)

// ErrUnknownBooking means a payment notification referenced no booking we
// know about. It is logged and surfaced, never retried.
var ErrUnknownBooking = errors.New("no booking for payment reference")

// InvalidRequestError is malformed or out-of-range input. The caller must
// correct the request; retrying unchanged will fail again.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid reservation request: " + e.Reason
}

// GatewayError wraps a payment-gateway failure that survived the bounded
// retry loop. The reservation it interrupted has already been rolled back.
type GatewayError struct {
	Attempts int
	Err      error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// LateConfirmationError reports a payment outcome that conflicts with a
// booking already in a terminal state, typically a success arriving after the
// hold expired. The seats are not touched; the booking is flagged for manual
// reconciliation and refund.
type LateConfirmationError struct {
	BookingID string
	Status    models.BookingStatus
	Outcome   models.PaymentOutcome
}

func (e *LateConfirmationError) Error() string {
	return fmt.Sprintf("late %s outcome for booking %s already in state %s",
		e.Outcome, e.BookingID, e.Status)
}
