package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/config"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway(t *testing.T) *StripeGateway {
	gw, err := NewStripeGateway(config.StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Currency:      "usd",
	}, logger.NewTestLogger())
	require.NoError(t, err)
	return gw
}

// signPayload produces a Stripe-Signature header the way Stripe signs
// webhook deliveries: HMAC-SHA256 over "<timestamp>.<payload>".
func signPayload(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(eventType, intentID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"type": %q,
		"data": {
			"object": {
				"id": %q,
				"object": "payment_intent",
				"metadata": {"booking_id": "booking-1"}
			}
		}
	}`, eventType, intentID))
}

func TestNewStripeGatewayRequiresSecretKey(t *testing.T) {
	_, err := NewStripeGateway(config.StripeConfig{}, logger.NewTestLogger())
	assert.ErrorIs(t, err, ErrMissingSecretKey)
}

func TestVerifyWebhookSuccessEvent(t *testing.T) {
	gw := newTestGateway(t)
	payload := eventPayload("payment_intent.succeeded", "pi_123")

	ref, outcome, err := gw.VerifyWebhook(payload, signPayload(payload, testWebhookSecret))

	require.NoError(t, err)
	assert.Equal(t, "pi_123", ref)
	assert.Equal(t, models.OutcomeSuccess, outcome)
}

func TestVerifyWebhookFailureEvent(t *testing.T) {
	gw := newTestGateway(t)
	payload := eventPayload("payment_intent.payment_failed", "pi_456")

	ref, outcome, err := gw.VerifyWebhook(payload, signPayload(payload, testWebhookSecret))

	require.NoError(t, err)
	assert.Equal(t, "pi_456", ref)
	assert.Equal(t, models.OutcomeFailure, outcome)
}

func TestVerifyWebhookIgnoresOtherEvents(t *testing.T) {
	gw := newTestGateway(t)
	payload := eventPayload("payment_intent.created", "pi_789")

	_, _, err := gw.VerifyWebhook(payload, signPayload(payload, testWebhookSecret))

	assert.ErrorIs(t, err, ErrUnhandledEvent)
}

func TestVerifyWebhookRejectsBadSignature(t *testing.T) {
	gw := newTestGateway(t)
	payload := eventPayload("payment_intent.succeeded", "pi_123")

	_, _, err := gw.VerifyWebhook(payload, signPayload(payload, "whsec_wrong_secret"))

	assert.Error(t, err)
}

func TestVerifyWebhookRejectsTamperedPayload(t *testing.T) {
	gw := newTestGateway(t)
	payload := eventPayload("payment_intent.succeeded", "pi_123")
	header := signPayload(payload, testWebhookSecret)

	tampered := eventPayload("payment_intent.succeeded", "pi_other")
	_, _, err := gw.VerifyWebhook(tampered, header)

	assert.Error(t, err)
}
