package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jordanlinford/ClubandCover-sub000/internal/payments"
	bursarapi "github.com/jordanlinford/ClubandCover-sub000/pkg/api/bursar"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/economy"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/middleware"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

// providerTimeout bounds every call to an external payment processor so a
// slow provider cannot hold a request or a sweep open indefinitely.
const providerTimeout = 10 * time.Second

// GetPackages lists the purchasable credit packages and configured providers.
func GetPackages(c middleware.Context) {
	methods := make([]string, 0, len(providers))
	for name := range providers {
		methods = append(methods, name)
	}

	c.JSON(http.StatusOK, bursarapi.GetPackagesResponse{
		Packages:       economy.CreditPackages(),
		PaymentMethods: methods,
	})
}

// InitiatePurchase opens a payment intent with the chosen provider and
// records the purchase as created. No credits move here; crediting happens
// only on confirmation.
func InitiatePurchase(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	var req bursarapi.InitiatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body", Code: bursarapi.CodeInvalidRequest})
		return
	}

	pkg, ok := economy.PackageByID(req.PackageID)
	if !ok {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: fmt.Sprintf("Unknown credit package: %s", req.PackageID), Code: bursarapi.CodeInvalidRequest})
		return
	}

	providerName := req.Provider
	if providerName == "" {
		providerName = "stripe"
	}
	provider, ok := providers[providerName]
	if !ok {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: fmt.Sprintf("Payment provider not available: %s", providerName), Code: bursarapi.CodeInvalidRequest})
		return
	}

	currency := economy.DefaultCurrency()
	purchaseID := uuid.New().String()

	ctx, cancel := context.WithTimeout(c.Request.Context(), providerTimeout)
	defer cancel()

	intent, err := provider.CreateIntent(ctx, payments.CreateIntentRequest{
		AmountCents: pkg.PriceCents,
		Currency:    currency,
		Description: fmt.Sprintf("Credit package %s (%d credits)", pkg.ID, pkg.TotalCredits()),
		UserID:      userID,
		PurchaseID:  purchaseID,
	})
	if err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"user_id":  userID,
			"provider": providerName,
			"package":  pkg.ID,
		}).Error("Payment provider failed to create intent")
		if metrics != nil {
			metrics.Purchases.WithLabelValues(providerName, "provider_error").Inc()
		}
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{Error: "Payment provider is unavailable", Code: bursarapi.CodePaymentUnavailable})
		return
	}

	_, err = db.ExecContext(c.Request.Context(), `
		INSERT INTO bursar.pending_purchases
			(id, user_id, credits_requested, price_cents, currency, provider, payment_intent_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, purchaseID, userID, pkg.TotalCredits(), pkg.PriceCents, currency, providerName, intent.ID, models.PurchaseCreated)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to record pending purchase")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to record purchase"})
		return
	}

	if metrics != nil {
		metrics.Purchases.WithLabelValues(providerName, models.PurchaseCreated).Inc()
	}

	logger.WithFields(logging.Fields{
		"user_id":           userID,
		"purchase_id":       purchaseID,
		"payment_intent_id": intent.ID,
		"provider":          providerName,
		"credits":           pkg.TotalCredits(),
	}).Info("Initiated credit purchase")

	c.JSON(http.StatusCreated, bursarapi.InitiatePurchaseResponse{
		PurchaseID:      purchaseID,
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		CheckoutURL:     intent.CheckoutURL,
		Provider:        providerName,
		AmountCents:     pkg.PriceCents,
		Currency:        currency,
	})
}

// ConfirmPurchase settles a pending purchase after client-side payment. The
// provider is the authority on payment state; the client's claim is never
// trusted. Safe to call repeatedly: only the first successful confirmation
// credits the account.
func ConfirmPurchase(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	var req bursarapi.ConfirmPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PaymentIntentID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "payment_intent_id is required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	purchase, balance, err := settlePurchaseByIntent(c.Request.Context(), req.PaymentIntentID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, bursarapi.ConfirmPurchaseResponse{Purchase: *purchase, Balance: *balance})
	case errors.Is(err, errPurchaseNotFound):
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "No purchase found for payment intent", Code: bursarapi.CodeNotFound})
	case errors.Is(err, errAlreadyProcessed):
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{Error: "Purchase has already been processed", Code: bursarapi.CodeAlreadyProcessed})
	case errors.Is(err, errPaymentNotSucceeded):
		c.JSON(http.StatusPaymentRequired, bursarapi.ErrorResponse{Error: "Payment has not succeeded", Code: bursarapi.CodePaymentNotSucceeded})
	default:
		logger.WithError(err).WithField("payment_intent_id", req.PaymentIntentID).Error("Failed to confirm purchase")
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{Error: "Could not verify payment", Code: bursarapi.CodePaymentUnavailable})
	}
}

// settlePurchaseByIntent is the single settlement path for a payment intent.
// HTTP confirmation, provider webhooks, and the reconciliation sweep all land
// here, so every entry point shares the same at-most-once guarantee.
func settlePurchaseByIntent(ctx context.Context, paymentIntentID string) (*models.PendingPurchase, *models.Balance, error) {
	purchase, err := loadPurchaseByIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, nil, err
	}
	if purchase.Status != models.PurchaseCreated {
		return nil, nil, errAlreadyProcessed
	}

	provider, ok := providers[purchase.Provider]
	if !ok {
		return nil, nil, fmt.Errorf("payment provider not configured: %s", purchase.Provider)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()

	intent, err := provider.GetIntent(verifyCtx, paymentIntentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify payment intent: %w", err)
	}

	switch intent.Status {
	case payments.IntentSucceeded:
		return creditConfirmedPurchase(ctx, purchase)
	case payments.IntentFailed:
		if err := markPurchaseFailed(ctx, paymentIntentID, "provider reported payment failure"); err != nil {
			return nil, nil, err
		}
		if metrics != nil {
			metrics.Purchases.WithLabelValues(purchase.Provider, models.PurchaseFailed).Inc()
		}
		return nil, nil, errPaymentNotSucceeded
	default:
		// Still pending at the provider. The purchase stays created so a
		// later confirmation attempt or the sweep can settle it.
		return nil, nil, errPaymentNotSucceeded
	}
}

// creditConfirmedPurchase flips the purchase to confirmed and appends the
// CREDIT_PURCHASE entry in one transaction. The guarded UPDATE is the
// idempotency gate: whichever caller wins the created->confirmed transition
// credits the account, every other caller sees zero rows and backs off.
func creditConfirmedPurchase(ctx context.Context, purchase *models.PendingPurchase) (*models.PendingPurchase, *models.Balance, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureUserAccount(ctx, tx, purchase.UserID); err != nil {
		return nil, nil, err
	}
	if err := lockUserAccount(ctx, tx, purchase.UserID); err != nil {
		return nil, nil, err
	}

	var confirmed models.PendingPurchase
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.pending_purchases
		SET status = $1, confirmed_at = NOW(), updated_at = NOW()
		WHERE payment_intent_id = $2 AND status = $3
		RETURNING id, user_id, credits_requested, price_cents, currency, provider,
			payment_intent_id, status, failure_reason, confirmed_at, created_at, updated_at
	`, models.PurchaseConfirmed, purchase.PaymentIntentID, models.PurchaseCreated).Scan(
		&confirmed.ID, &confirmed.UserID, &confirmed.CreditsRequested, &confirmed.PriceCents,
		&confirmed.Currency, &confirmed.Provider, &confirmed.PaymentIntentID, &confirmed.Status,
		&confirmed.FailureReason, &confirmed.ConfirmedAt, &confirmed.CreatedAt, &confirmed.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, errAlreadyProcessed
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to confirm purchase: %w", err)
	}

	entry, err := appendLedgerEntry(ctx, tx, ledgerAppend{
		UserID:          confirmed.UserID,
		Kind:            models.KindCreditPurchase,
		Amount:          confirmed.CreditsRequested,
		EventType:       economy.EventCreditPurchase,
		RelatedEntityID: &confirmed.ID,
	})
	if err != nil {
		return nil, nil, err
	}

	awarded, err := maybeAwardBadges(ctx, tx, confirmed.UserID)
	if err != nil {
		return nil, nil, err
	}

	balance, err := computeBalance(ctx, tx, confirmed.UserID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit purchase confirmation: %w", err)
	}

	if metrics != nil {
		metrics.Purchases.WithLabelValues(confirmed.Provider, models.PurchaseConfirmed).Inc()
	}

	logger.WithFields(logging.Fields{
		"user_id":           confirmed.UserID,
		"purchase_id":       confirmed.ID,
		"payment_intent_id": confirmed.PaymentIntentID,
		"credits":           confirmed.CreditsRequested,
	}).Info("Credited confirmed purchase")

	emitLedgerEvent(economy.EventCreditPurchase, entry, map[string]interface{}{
		"purchase_id": confirmed.ID,
		"provider":    confirmed.Provider,
		"price_cents": confirmed.PriceCents,
	})
	for _, badge := range awarded {
		emitBadgeEvent(confirmed.UserID, badge)
	}

	return &confirmed, &balance, nil
}

func loadPurchaseByIntent(ctx context.Context, paymentIntentID string) (*models.PendingPurchase, error) {
	var purchase models.PendingPurchase
	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, credits_requested, price_cents, currency, provider,
			payment_intent_id, status, failure_reason, confirmed_at, created_at, updated_at
		FROM bursar.pending_purchases
		WHERE payment_intent_id = $1
	`, paymentIntentID).Scan(
		&purchase.ID, &purchase.UserID, &purchase.CreditsRequested, &purchase.PriceCents,
		&purchase.Currency, &purchase.Provider, &purchase.PaymentIntentID, &purchase.Status,
		&purchase.FailureReason, &purchase.ConfirmedAt, &purchase.CreatedAt, &purchase.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errPurchaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase: %w", err)
	}
	return &purchase, nil
}

// markPurchaseFailed records a provider-reported failure. Guarded on status
// so a late failure report cannot clobber a confirmed purchase.
func markPurchaseFailed(ctx context.Context, paymentIntentID, reason string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE bursar.pending_purchases
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE payment_intent_id = $3 AND status = $4
	`, models.PurchaseFailed, reason, paymentIntentID, models.PurchaseCreated)
	if err != nil {
		return fmt.Errorf("failed to mark purchase failed: %w", err)
	}
	return nil
}
