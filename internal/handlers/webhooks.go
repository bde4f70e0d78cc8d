package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jordanlinford/ClubandCover-sub000/pkg/config"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/middleware"
)

// webhookTolerance bounds how old a signed Stripe timestamp may be. Replays
// outside the window are rejected even with a valid signature.
const webhookTolerance = 5 * time.Minute

// stripeEvent is the subset of the Stripe event envelope the engine reads.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// StripeWebhook processes payment_intent events from Stripe. Webhooks are
// delivered at least once; the webhook_events table drops duplicates and the
// settlement path is idempotent on top of that. An event is marked processed
// only after handling succeeds, so a transient failure answers 500 and Stripe
// redelivers.
func StripeWebhook(c middleware.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read payload"})
		return
	}

	secret := config.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if secret != "" {
		if err := verifyStripeSignature(payload, c.GetHeader("Stripe-Signature"), secret, time.Now()); err != nil {
			logger.WithError(err).Warn("Rejected Stripe webhook signature")
			c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
			return
		}
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid event payload"})
		return
	}

	ctx := c.Request.Context()
	if webhookAlreadyProcessed(ctx, "stripe", event.ID) {
		logger.WithField("event_id", event.ID).Debug("Stripe webhook already processed, skipping")
		c.JSON(http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		if err := settleFromWebhook(ctx, "stripe", event.Data.Object.ID); err != nil {
			c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to process webhook"})
			return
		}
	default:
		// Unhandled event types are acknowledged so Stripe stops retrying.
	}

	markWebhookProcessed(ctx, "stripe", event.ID, event.Type)
	c.JSON(http.StatusOK, map[string]string{"status": "received"})
}

// MollieWebhook processes payment status callbacks from Mollie. Mollie sends
// only the payment id, no event id to dedup on, so every delivery goes
// through the settlement path and relies on its idempotency.
func MollieWebhook(c middleware.Context) {
	paymentID := c.PostForm("id")
	if paymentID == "" {
		c.JSON(http.StatusBadRequest, map[string]string{"error": "Missing payment id"})
		return
	}

	if err := settleFromWebhook(c.Request.Context(), "mollie", paymentID); err != nil {
		c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to process webhook"})
		return
	}
	c.JSON(http.StatusOK, map[string]string{"status": "received"})
}

// settleFromWebhook drives the shared settlement path for a webhook delivery.
// Expected outcomes (already processed, payment still pending, unknown intent)
// are logged and swallowed so the provider stops retrying; an unexpected
// failure is returned so the delivery answers 5xx and is retried.
func settleFromWebhook(ctx context.Context, provider, paymentIntentID string) error {
	_, _, err := settlePurchaseByIntent(ctx, paymentIntentID)
	switch {
	case err == nil:
		logger.WithFields(logging.Fields{
			"provider":          provider,
			"payment_intent_id": paymentIntentID,
		}).Info("Settled purchase from webhook")
	case errors.Is(err, errAlreadyProcessed), errors.Is(err, errPaymentNotSucceeded):
		logger.WithFields(logging.Fields{
			"provider":          provider,
			"payment_intent_id": paymentIntentID,
		}).WithError(err).Debug("Webhook settlement was a no-op")
	case errors.Is(err, errPurchaseNotFound):
		logger.WithFields(logging.Fields{
			"provider":          provider,
			"payment_intent_id": paymentIntentID,
		}).Warn("Webhook references unknown payment intent")
	default:
		logger.WithError(err).WithFields(logging.Fields{
			"provider":          provider,
			"payment_intent_id": paymentIntentID,
		}).Error("Failed to settle purchase from webhook")
		return err
	}
	return nil
}

// webhookAlreadyProcessed checks whether a webhook delivery was seen before.
func webhookAlreadyProcessed(ctx context.Context, provider, eventID string) bool {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM bursar.webhook_events WHERE provider = $1 AND event_id = $2)
	`, provider, eventID).Scan(&exists)
	return err == nil && exists
}

// markWebhookProcessed records a handled webhook delivery. Best effort: the
// settlement path is idempotent, so a lost dedup row only costs a redundant
// no-op on redelivery.
func markWebhookProcessed(ctx context.Context, provider, eventID, eventType string) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO bursar.webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		logger.WithError(err).Warn("Failed to mark webhook as processed")
	}
}

// verifyStripeSignature checks the Stripe-Signature header: an HMAC-SHA256 of
// "<timestamp>.<payload>" keyed with the endpoint secret.
func verifyStripeSignature(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid signature timestamp")
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return fmt.Errorf("malformed signature header")
	}
	if delta := now.Sub(time.Unix(timestamp, 0)); delta > webhookTolerance || delta < -webhookTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("no matching signature")
}
