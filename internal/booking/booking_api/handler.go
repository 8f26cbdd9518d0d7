package booking_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/booking"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/payment"
	"ms-booking/internal/seatmap"
	"ms-booking/internal/showing"
	"ms-booking/internal/tickets"
	"ms-booking/internal/utils"
)

type Handler struct {
	Bookings *booking.Service
	Showings *showing.Registry
	Seats    *seatmap.Store
	Tickets  *tickets.Service
	Gateway  *payment.StripeGateway
	Log      *logger.Logger
}

func NewHandler(bookings *booking.Service, showings *showing.Registry, seats *seatmap.Store,
	ticketSvc *tickets.Service, gateway *payment.StripeGateway, log *logger.Logger) *Handler {
	return &Handler{
		Bookings: bookings,
		Showings: showings,
		Seats:    seats,
		Tickets:  ticketSvc,
		Gateway:  gateway,
		Log:      log,
	}
}

func (h *Handler) CreateShowing(w http.ResponseWriter, r *http.Request) {
	var req models.ShowingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	created, err := h.Showings.Create(r.Context(), req)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Could not create showing", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Showing created", created))
}

func (h *Handler) GetShowing(w http.ResponseWriter, r *http.Request) {
	showingID := chi.URLParam(r, "showingId")

	show, err := h.Showings.Get(r.Context(), showingID)
	if errors.Is(err, showing.ErrNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Showing not found", showingID))
		return
	}
	if err != nil {
		h.Log.Error("API", fmt.Sprintf("GetShowing %s: %v", showingID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load showing", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Showing", show))
}

func (h *Handler) ListShowings(w http.ResponseWriter, r *http.Request) {
	showings, err := h.Showings.ListUpcoming(r.Context())
	if err != nil {
		h.Log.Error("API", fmt.Sprintf("ListShowings: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not list showings", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Upcoming showings", showings))
}

func (h *Handler) GetSeats(w http.ResponseWriter, r *http.Request) {
	showingID := chi.URLParam(r, "showingId")

	seats, err := h.Seats.Seats(r.Context(), showingID)
	if err != nil {
		h.Log.Error("API", fmt.Sprintf("GetSeats %s: %v", showingID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load seat map", err.Error()))
		return
	}
	if len(seats) == 0 {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Showing not found", showingID))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Seat map", seats))
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.ReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	resp, err := h.Bookings.Reserve(r.Context(), req)
	if err != nil {
		h.writeReserveError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Seats reserved, awaiting payment", resp))
}

func (h *Handler) writeReserveError(w http.ResponseWriter, err error) {
	var invalid *booking.InvalidRequestError
	var unavailable *seatmap.SeatsUnavailableError
	var gateway *booking.GatewayError

	switch {
	case errors.As(err, &invalid):
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid reservation", invalid.Reason))
	case errors.As(err, &unavailable):
		resp := utils.ErrorResponse("Seats unavailable", unavailable.Error())
		resp.Data = map[string]interface{}{"unavailable_seats": unavailable.Seats}
		utils.WriteJSON(w, http.StatusConflict, resp)
	case errors.As(err, &gateway):
		h.Log.Error("API", fmt.Sprintf("Reservation rolled back: %v", gateway))
		utils.WriteJSON(w, http.StatusBadGateway, utils.ErrorResponse("Payment gateway unavailable", gateway.Error()))
	default:
		h.Log.Error("API", fmt.Sprintf("Reserve failed: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Reservation failed", err.Error()))
	}
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")

	b, err := h.Bookings.GetBooking(r.Context(), bookingID)
	if errors.Is(err, bookingdb.ErrNotFound) {
		utils.WriteJSON(w, http.StatusNotFound, utils.ErrorResponse("Booking not found", bookingID))
		return
	}
	if err != nil {
		h.Log.Error("API", fmt.Sprintf("GetBooking %s: %v", bookingID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load booking", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Booking", b))
}

func (h *Handler) GetTickets(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingId")

	list, err := h.Tickets.TicketsForBooking(r.Context(), bookingID)
	if err != nil {
		h.Log.Error("API", fmt.Sprintf("GetTickets %s: %v", bookingID, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not load tickets", err.Error()))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets", list))
}

// StripeWebhook verifies the notification signature, normalizes the event and
// feeds it to the confirmation state machine. Reconciliation anomalies are
// acknowledged with 200 so the gateway stops redelivering; they are already
// logged and flagged for the operator.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Could not read payload", err.Error()))
		return
	}

	ref, outcome, err := h.Gateway.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, payment.ErrUnhandledEvent) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Event ignored", nil))
		return
	}
	if err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Webhook verification failed", err.Error()))
		return
	}

	err = h.Bookings.ApplyOutcome(r.Context(), ref, outcome)
	var late *booking.LateConfirmationError
	var violation *seatmap.InvariantViolationError

	switch {
	case err == nil:
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Outcome applied", nil))
	case errors.Is(err, booking.ErrUnknownBooking):
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("No booking for payment reference, logged", nil))
	case errors.As(err, &late):
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Late outcome flagged for reconciliation", map[string]string{
			"booking_id": late.BookingID,
		}))
	case errors.As(err, &violation):
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Seat state inconsistent", violation.Error()))
	default:
		h.Log.Error("API", fmt.Sprintf("ApplyOutcome for ref %s failed: %v", ref, err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not apply outcome", err.Error()))
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
}
