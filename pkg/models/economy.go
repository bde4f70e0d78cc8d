package models

import (
	"time"
)

// LedgerKind classifies a ledger entry. Points and credits are tracked in
// separate namespaces; the kind determines which balance an entry affects.
type LedgerKind string

const (
	KindPointAward     LedgerKind = "POINT_AWARD"
	KindPointSpend     LedgerKind = "POINT_SPEND"
	KindCreditPurchase LedgerKind = "CREDIT_PURCHASE"
	KindCreditSpend    LedgerKind = "CREDIT_SPEND"
	KindCreditRefund   LedgerKind = "CREDIT_REFUND"
)

// LedgerEntry is an immutable record of a single point/credit balance change.
// Entries are never mutated or deleted; corrections are issued as new
// offsetting entries.
type LedgerEntry struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Kind            LedgerKind `json:"kind"`
	Amount          int64      `json:"amount"`
	EventType       string     `json:"event_type"`
	RelatedEntityID *string    `json:"related_entity_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Balance is a derived projection over a user's ledger entries. Any cached
// copy is an optimization; the ledger is the only ground truth.
type Balance struct {
	UserID        string `json:"user_id"`
	Points        int64  `json:"points"`
	Reputation    int64  `json:"reputation"`
	CreditBalance int64  `json:"credit_balance"`
}

// Purchase status values
const (
	PurchaseCreated   = "created"
	PurchaseConfirmed = "confirmed"
	PurchaseFailed    = "failed"
)

// PendingPurchase tracks a credit purchase awaiting payment confirmation.
// It transitions created -> confirmed exactly once; only that transition may
// write a CREDIT_PURCHASE ledger entry for it.
type PendingPurchase struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	CreditsRequested int64      `json:"credits_requested"`
	PriceCents       int64      `json:"price_cents"`
	Currency         string     `json:"currency"`
	Provider         string     `json:"provider"`
	PaymentIntentID  string     `json:"payment_intent_id"`
	Status           string     `json:"status"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Promotion status values
const (
	PromotionActive    = "active"
	PromotionExpired   = "expired"
	PromotionCancelled = "cancelled"
)

// Promotion is a credit-funded, time-bounded placement: a boost for a single
// pitch, or a sponsorship targeting a club with a display frequency.
type Promotion struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	PromotionType    string    `json:"promotion_type"`
	SubjectID        string    `json:"subject_id"`
	ClubID           *string   `json:"club_id,omitempty"`
	CreditsCommitted int64     `json:"credits_committed"`
	Frequency        *string   `json:"frequency,omitempty"`
	Status           string    `json:"status"`
	StartsAt         time.Time `json:"starts_at"`
	EndsAt           time.Time `json:"ends_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RewardItem is a catalog reward redeemable for points. A nil CopiesAvailable
// means unlimited inventory.
type RewardItem struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	PointsCost      int64     `json:"points_cost"`
	CopiesAvailable *int64    `json:"copies_available,omitempty"`
	CopiesRedeemed  int64     `json:"copies_redeemed"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Redemption status values
const (
	RedemptionPending   = "pending"
	RedemptionApproved  = "approved"
	RedemptionDeclined  = "declined"
	RedemptionFulfilled = "fulfilled"
	RedemptionCancelled = "cancelled"
)

// RedemptionRequest is a point-funded claim on a catalog reward, subject to
// an approval/fulfillment workflow. PointsSpent snapshots the reward cost at
// request time; later catalog price changes do not affect open requests.
type RedemptionRequest struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	RewardItemID    string     `json:"reward_item_id"`
	PointsSpent     int64      `json:"points_spent"`
	Status          string     `json:"status"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
