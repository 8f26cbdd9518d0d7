package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

var (
	ErrMissingSecretKey = errors.New("stripe secret key is not configured")

	// ErrUnhandledEvent marks webhook event types this service does not
	// react to. The caller acknowledges them so Stripe stops redelivering.
	ErrUnhandledEvent = errors.New("unhandled webhook event type")
)

// StripeGateway creates payment intents for bookings and verifies incoming
// webhook notifications. Verification lives here so the state machine only
// ever sees authenticated, normalized outcomes.
type StripeGateway struct {
	webhookSecret string
	log           *logger.Logger
}

func NewStripeGateway(cfg config.StripeConfig, log *logger.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingSecretKey
	}
	stripe.Key = cfg.SecretKey
	log.Info("STRIPE", "Stripe gateway initialized")
	return &StripeGateway{webhookSecret: cfg.WebhookSecret, log: log}, nil
}

// CreatePaymentIntent opens an intent for the booking amount and returns its
// identifier, which becomes the booking's external payment reference. The
// booking id travels in the intent metadata for correlation.
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, bookingID string, amount float64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(int64(math.Round(amount * 100))),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("booking_id", bookingID)

	intent, err := paymentintent.New(params)
	if err != nil {
		return "", fmt.Errorf("create payment intent for booking %s: %w", bookingID, err)
	}

	g.log.Info("STRIPE", fmt.Sprintf("Created payment intent %s for booking %s (%.2f %s)",
		intent.ID, bookingID, amount, currency))
	return intent.ID, nil
}

// VerifyWebhook authenticates a webhook payload against its signature header
// and normalizes the event into (payment reference, outcome). Event types the
// service does not handle come back as ErrUnhandledEvent.
func (g *StripeGateway) VerifyWebhook(payload []byte, sigHeader string) (string, models.PaymentOutcome, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		g.log.Error("WEBHOOK", fmt.Sprintf("Signature verification failed: %v", err))
		return "", "", fmt.Errorf("verify webhook signature: %w", err)
	}

	var outcome models.PaymentOutcome
	switch event.Type {
	case "payment_intent.succeeded":
		outcome = models.OutcomeSuccess
	case "payment_intent.payment_failed":
		outcome = models.OutcomeFailure
	default:
		g.log.LogWebhook(string(event.Type), "ignored")
		return "", "", ErrUnhandledEvent
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return "", "", fmt.Errorf("unmarshal payment intent from event: %w", err)
	}
	if intent.ID == "" {
		return "", "", errors.New("webhook payment intent has no id")
	}

	g.log.LogWebhook(string(event.Type),
		fmt.Sprintf("intent %s, booking %s", intent.ID, intent.Metadata["booking_id"]))
	return intent.ID, outcome, nil
}
