package tickets

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type DBLayer interface {
	InsertTickets(ctx context.Context, tickets []models.Ticket) error
	TicketsByBooking(ctx context.Context, bookingID string) ([]models.Ticket, error)
}

type BookingLookup interface {
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
}

// Service turns confirmed bookings into per-seat tickets with QR codes. It
// consumes the booking-confirmed event stream, so issuing must tolerate
// duplicates.
type Service struct {
	DB       DBLayer
	Bookings BookingLookup
	Log      *logger.Logger
}

func NewService(dbl DBLayer, bookings BookingLookup, log *logger.Logger) *Service {
	return &Service{DB: dbl, Bookings: bookings, Log: log}
}

// IssueForBooking issues one ticket per seat of a paid booking.
func (s *Service) IssueForBooking(ctx context.Context, event models.BookingEvent) error {
	b, err := s.Bookings.GetBookingByID(ctx, event.BookingID)
	if err != nil {
		return fmt.Errorf("look up booking %s: %w", event.BookingID, err)
	}
	if b.Status != models.BookingPaid {
		s.Log.Warn("TICKETS", fmt.Sprintf("Skipping ticket issue for booking %s in state %s", b.BookingID, b.Status))
		return nil
	}

	tickets := make([]models.Ticket, 0, len(b.SeatIDs))
	for _, seatID := range b.SeatIDs {
		qr, err := generateQR(b.BookingID, seatID)
		if err != nil {
			return fmt.Errorf("generate QR for seat %s: %w", seatID, err)
		}
		tickets = append(tickets, models.Ticket{
			BookingID: b.BookingID,
			SeatID:    seatID,
			ShowingID: b.ShowingID,
			UserID:    b.UserID,
			QRCode:    qr,
			IssuedAt:  time.Now(),
		})
	}

	if err := s.DB.InsertTickets(ctx, tickets); err != nil {
		return fmt.Errorf("store tickets for booking %s: %w", b.BookingID, err)
	}
	s.Log.Info("TICKETS", fmt.Sprintf("Issued %d tickets for booking %s", len(tickets), b.BookingID))
	return nil
}

func (s *Service) TicketsForBooking(ctx context.Context, bookingID string) ([]models.Ticket, error) {
	return s.DB.TicketsByBooking(ctx, bookingID)
}

func generateQR(bookingID, seatID string) (string, error) {
	png, err := qrcode.Encode(fmt.Sprintf("ticket:%s:%s", bookingID, seatID), qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
