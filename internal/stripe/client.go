package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"

	"github.com/jordanlinford/ClubandCover-sub000/internal/payments"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
)

// Client wraps Stripe payment intent operations.
type Client struct {
	webhookSecret string
	logger        logging.Logger
}

// Config for creating a new Stripe client
type Config struct {
	SecretKey     string // STRIPE_SECRET_KEY
	WebhookSecret string // STRIPE_WEBHOOK_SECRET
	Logger        logging.Logger
}

// NewClient creates a new Stripe client
func NewClient(config Config) *Client {
	// Set the global API key for the stripe-go library
	stripe.Key = config.SecretKey

	return &Client{
		webhookSecret: config.WebhookSecret,
		logger:        config.Logger,
	}
}

// Name implements payments.Provider
func (c *Client) Name() string {
	return "stripe"
}

// WebhookSecret returns the configured webhook signing secret.
func (c *Client) WebhookSecret() string {
	return c.webhookSecret
}

// CreateIntent opens a Stripe PaymentIntent for client-side confirmation.
// The purchase id travels in metadata so webhooks can be matched back.
func (c *Client) CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (*payments.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("purchase_id", req.PurchaseID)

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe payment intent: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"payment_intent_id": intent.ID,
		"amount_cents":      req.AmountCents,
		"purchase_id":       req.PurchaseID,
	}).Info("Created Stripe payment intent")

	return &payments.Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       mapIntentStatus(intent.Status),
		AmountCents:  intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
	}, nil
}

// GetIntent retrieves a PaymentIntent and maps its status.
func (c *Client) GetIntent(ctx context.Context, intentID string) (*payments.Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := paymentintent.Get(intentID, params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.HTTPStatusCode == 404 {
			return nil, payments.ErrIntentNotFound
		}
		return nil, fmt.Errorf("failed to get Stripe payment intent: %w", err)
	}

	return &payments.Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       mapIntentStatus(intent.Status),
		AmountCents:  intent.Amount,
		Currency:     strings.ToUpper(string(intent.Currency)),
	}, nil
}

func mapIntentStatus(status stripe.PaymentIntentStatus) payments.IntentStatus {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return payments.IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return payments.IntentFailed
	default:
		// requires_payment_method, requires_confirmation, requires_action,
		// processing, requires_capture
		return payments.IntentPending
	}
}
