package mollie

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/VictorAvelar/mollie-api-go/v4/mollie"

	"github.com/jordanlinford/ClubandCover-sub000/internal/payments"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
)

// Client wraps Mollie payment operations behind the provider contract.
// Mollie uses a hosted checkout: the caller is redirected to CheckoutURL and
// settlement lands via webhook.
type Client struct {
	client      *mollie.Client
	redirectURL string
	webhookURL  string
	logger      logging.Logger
}

// Config for creating a new Mollie client
type Config struct {
	APIKey      string // MOLLIE_API_KEY (live_xxx or test_xxx)
	RedirectURL string // Where Mollie sends the buyer after payment
	WebhookURL  string // Where Mollie reports payment status changes
	Logger      logging.Logger
}

// NewClient creates a new Mollie client
func NewClient(config Config) (*Client, error) {
	mollieConfig := mollie.NewAPITestingConfig(true)
	if strings.HasPrefix(config.APIKey, "live_") {
		mollieConfig = mollie.NewAPIConfig(true)
	}

	client, err := mollie.NewClient(nil, mollieConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mollie client: %w", err)
	}

	if err := client.WithAuthenticationValue(config.APIKey); err != nil {
		return nil, fmt.Errorf("failed to set Mollie API key: %w", err)
	}

	return &Client{
		client:      client,
		redirectURL: config.RedirectURL,
		webhookURL:  config.WebhookURL,
		logger:      config.Logger,
	}, nil
}

// Name implements payments.Provider
func (c *Client) Name() string {
	return "mollie"
}

// CreateIntent opens a Mollie payment and returns its hosted checkout URL.
func (c *Client) CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (*payments.Intent, error) {
	paymentParams := mollie.CreatePayment{
		Amount:      amount(req.AmountCents, req.Currency),
		Description: req.Description,
		RedirectURL: c.redirectURL,
		WebhookURL:  c.webhookURL,
		Metadata: map[string]interface{}{
			"user_id":     req.UserID,
			"purchase_id": req.PurchaseID,
		},
	}

	_, payment, err := c.client.Payments.Create(ctx, paymentParams, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Mollie payment: %w", err)
	}

	c.logger.WithFields(logging.Fields{
		"payment_id":  payment.ID,
		"purchase_id": req.PurchaseID,
	}).Info("Created Mollie payment")

	return toIntent(payment)
}

// GetIntent retrieves a Mollie payment and maps its status.
func (c *Client) GetIntent(ctx context.Context, intentID string) (*payments.Intent, error) {
	_, payment, err := c.client.Payments.Get(ctx, intentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get Mollie payment: %w", err)
	}
	return toIntent(payment)
}

func toIntent(payment *mollie.Payment) (*payments.Intent, error) {
	intent := &payments.Intent{
		ID:     payment.ID,
		Status: mapPaymentStatus(payment.Status),
	}

	if payment.Amount != nil {
		cents, currency, err := amountToCents(payment.Amount.Value, payment.Amount.Currency)
		if err != nil {
			return nil, err
		}
		intent.AmountCents = cents
		intent.Currency = currency
	}

	if payment.Links.Checkout != nil {
		intent.CheckoutURL = payment.Links.Checkout.Href
	}

	return intent, nil
}

func mapPaymentStatus(status string) payments.IntentStatus {
	switch status {
	case "paid":
		return payments.IntentSucceeded
	case "failed", "canceled", "expired":
		return payments.IntentFailed
	default:
		// open, pending, authorized
		return payments.IntentPending
	}
}

// amount formats cents as a Mollie decimal amount string.
func amount(cents int64, currency string) *mollie.Amount {
	return &mollie.Amount{
		Value:    fmt.Sprintf("%.2f", float64(cents)/100.0),
		Currency: strings.ToUpper(currency),
	}
}

func amountToCents(value, currency string) (int64, string, error) {
	if value == "" || currency == "" {
		return 0, "", fmt.Errorf("missing Mollie amount")
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid Mollie amount: %w", err)
	}
	return int64(math.Round(parsed * 100)), strings.ToUpper(currency), nil
}
