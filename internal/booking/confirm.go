package booking

import (
	"context"
	"errors"
	"fmt"

	"ms-booking/internal/booking/db"
	"ms-booking/internal/models"
	"ms-booking/internal/seatmap"
)

// maxOutcomeRetries bounds re-reads after losing a status compare-and-swap.
// One concurrent writer means one retry; more indicates a bug.
const maxOutcomeRetries = 3

// ApplyOutcome feeds a verified payment outcome into the booking state
// machine. Redeliveries of an already-applied outcome are no-ops; outcomes
// that conflict with a terminal state flag the booking for reconciliation
// instead of touching the seat map.
func (s *Service) ApplyOutcome(ctx context.Context, externalRef string, outcome models.PaymentOutcome) error {
	if outcome != models.OutcomeSuccess && outcome != models.OutcomeFailure {
		return &InvalidRequestError{Reason: fmt.Sprintf("unknown payment outcome %q", outcome)}
	}

	b, err := s.DB.GetBookingByPaymentRef(ctx, externalRef)
	if errors.Is(err, db.ErrNotFound) {
		s.Log.Warn("WEBHOOK", fmt.Sprintf("Outcome %s for unknown payment reference %s", outcome, externalRef))
		return ErrUnknownBooking
	}
	if err != nil {
		return fmt.Errorf("look up booking by payment reference: %w", err)
	}

	for attempt := 0; attempt < maxOutcomeRetries; attempt++ {
		if b.Status.Terminal() {
			return s.resolveTerminal(ctx, b, outcome)
		}

		switch outcome {
		case models.OutcomeSuccess:
			err = s.confirm(ctx, b)
		case models.OutcomeFailure:
			err = s.fail(ctx, b)
		}
		if !errors.Is(err, db.ErrStaleBooking) {
			return err
		}

		// Lost the race against the sweeper or a duplicate delivery.
		// Re-read and judge the outcome against the fresh state.
		b, err = s.DB.GetBookingByID(ctx, b.BookingID)
		if err != nil {
			return fmt.Errorf("re-read booking after concurrent transition: %w", err)
		}
	}
	return fmt.Errorf("booking %s kept changing concurrently, giving up", b.BookingID)
}

func (s *Service) confirm(ctx context.Context, b *models.Booking) error {
	err := s.DB.ConfirmPaid(ctx, b)
	if err != nil {
		var inv *seatmap.InvariantViolationError
		if errors.As(err, &inv) {
			s.Log.Error("BOOKING", fmt.Sprintf("Seat commit refused for booking %s: %v", b.BookingID, inv))
		}
		return err
	}

	if err := s.Cache.Clear(ctx, b.ShowingID, b.SeatIDs, b.BookingID); err != nil {
		s.Log.Warn("BOOKING", fmt.Sprintf("Failed to clear hold mirror for booking %s: %v", b.BookingID, err))
	}

	s.publishEvent(models.EventBookingConfirmed, s.Topics.BookingConfirmed, b)
	s.Log.LogBooking("CONFIRM", b.BookingID, "payment succeeded, seats occupied")
	return nil
}

func (s *Service) fail(ctx context.Context, b *models.Booking) error {
	if err := s.DB.ReleaseToState(ctx, b, models.BookingFailed); err != nil {
		return err
	}
	if err := s.Cache.Clear(ctx, b.ShowingID, b.SeatIDs, b.BookingID); err != nil {
		s.Log.Warn("BOOKING", fmt.Sprintf("Failed to clear hold mirror for booking %s: %v", b.BookingID, err))
	}
	s.Log.LogBooking("FAIL", b.BookingID, "payment failed, seats released")
	return nil
}

// resolveTerminal decides what a late outcome means against a booking that is
// already terminal. Matching outcomes are redeliveries and succeed silently.
// Conflicting outcomes are never auto-resolved: the seats may already belong
// to another booking, so the case goes to manual reconciliation.
func (s *Service) resolveTerminal(ctx context.Context, b *models.Booking, outcome models.PaymentOutcome) error {
	matching := (outcome == models.OutcomeSuccess && b.Status == models.BookingPaid) ||
		(outcome == models.OutcomeFailure && (b.Status == models.BookingFailed || b.Status == models.BookingExpired))
	if matching {
		s.Log.LogBooking("DUPLICATE", b.BookingID,
			fmt.Sprintf("%s outcome redelivered for %s booking, ignored", outcome, b.Status))
		return nil
	}

	if err := s.DB.MarkReconciliation(ctx, b.BookingID); err != nil {
		s.Log.Error("BOOKING", fmt.Sprintf("Failed to flag booking %s for reconciliation: %v", b.BookingID, err))
	}
	s.Log.Warn("BOOKING", fmt.Sprintf("Late %s outcome for booking %s in state %s, flagged for reconciliation",
		outcome, b.BookingID, b.Status))
	return &LateConfirmationError{BookingID: b.BookingID, Status: b.Status, Outcome: outcome}
}
