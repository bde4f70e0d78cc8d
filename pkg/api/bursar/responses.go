package bursar

import (
	"github.com/jordanlinford/ClubandCover-sub000/pkg/economy"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

// Machine-readable error codes. Insufficient-resource errors always carry
// current/required context so the caller can render a remediation path.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInsufficientCredits = "insufficient_credits"
	CodeInsufficientPoints  = "insufficient_points"
	CodeRewardUnavailable   = "reward_unavailable"
	CodeRewardInactive      = "reward_inactive"
	CodeAlreadyProcessed    = "already_processed"
	CodePaymentNotSucceeded = "payment_not_succeeded"
	CodePaymentUnavailable  = "payment_unavailable"
	CodeInvalidTransition   = "invalid_transition"
	CodeNotFound            = "not_found"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Current  *int64 `json:"current,omitempty"`
	Required *int64 `json:"required,omitempty"`
}

// ShortfallError builds an insufficient-resource error with balance context.
func ShortfallError(code, message string, current, required int64) ErrorResponse {
	return ErrorResponse{Error: message, Code: code, Current: &current, Required: &required}
}

// GetPackagesResponse lists purchasable credit packages.
type GetPackagesResponse struct {
	Packages       []economy.CreditPackage `json:"packages"`
	PaymentMethods []string                `json:"payment_methods"`
}

// InitiatePurchaseResponse returns the provider handle for client-side payment.
type InitiatePurchaseResponse struct {
	PurchaseID      string `json:"purchase_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	CheckoutURL     string `json:"checkout_url,omitempty"`
	Provider        string `json:"provider"`
	AmountCents     int64  `json:"amount_cents"`
	Currency        string `json:"currency"`
}

// ConfirmPurchaseResponse returns the post-credit balance.
type ConfirmPurchaseResponse struct {
	Purchase models.PendingPurchase `json:"purchase"`
	Balance  models.Balance         `json:"balance"`
}

// GetBalanceResponse wraps the projected balance.
type GetBalanceResponse struct {
	Balance models.Balance `json:"balance"`
}

// GetLedgerResponse lists a user's ledger entries, newest first.
type GetLedgerResponse struct {
	Entries []models.LedgerEntry `json:"entries"`
	Count   int                  `json:"count"`
}

// CreatePromotionResponse returns the created promotion and remaining balance.
type CreatePromotionResponse struct {
	Promotion models.Promotion `json:"promotion"`
	Balance   models.Balance   `json:"balance"`
}

// GetPromotionsResponse lists a user's promotions.
type GetPromotionsResponse struct {
	Promotions []models.Promotion `json:"promotions"`
	Count      int                `json:"count"`
}

// GetRewardsResponse lists active catalog rewards.
type GetRewardsResponse struct {
	Rewards []models.RewardItem `json:"rewards"`
	Count   int                 `json:"count"`
}

// RedemptionResponse wraps a single redemption request.
type RedemptionResponse struct {
	Redemption models.RedemptionRequest `json:"redemption"`
	Balance    *models.Balance          `json:"balance,omitempty"`
}

// GetRedemptionsResponse lists redemption requests.
type GetRedemptionsResponse struct {
	Redemptions []models.RedemptionRequest `json:"redemptions"`
	Count       int                        `json:"count"`
}

// GetBadgeProgressResponse lists badge progress for a user.
type GetBadgeProgressResponse struct {
	Badges []economy.BadgeProgress `json:"badges"`
	Count  int                     `json:"count"`
}
