// Package payments abstracts the external payment processors behind a
// create-intent/verify-intent contract. Providers are opaque to the engine:
// their retry and webhook semantics are their own, and the engine's
// idempotency guarantees must hold regardless.
package payments

import (
	"context"
	"errors"
)

// ErrIntentNotFound is returned when the provider does not know the intent.
var ErrIntentNotFound = errors.New("payment intent not found")

// IntentStatus is the engine's view of a payment intent's state.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// Intent is a provider-agnostic payment intent.
type Intent struct {
	ID           string
	ClientSecret string // Stripe client-side confirmation handle
	CheckoutURL  string // Mollie hosted checkout redirect
	Status       IntentStatus
	AmountCents  int64
	Currency     string
}

// CreateIntentRequest carries everything a provider needs to open a payment.
type CreateIntentRequest struct {
	AmountCents int64
	Currency    string
	Description string
	UserID      string
	PurchaseID  string
}

// Provider is an external payment processor. All calls must respect the
// context deadline; a provider must never be allowed to block a purchase
// indefinitely.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	GetIntent(ctx context.Context, intentID string) (*Intent, error)
}
