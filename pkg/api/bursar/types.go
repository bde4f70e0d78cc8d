package bursar

// InitiatePurchaseRequest starts the credit purchase flow for a package.
type InitiatePurchaseRequest struct {
	PackageID string `json:"package_id"`
	Provider  string `json:"provider,omitempty"` // stripe (default) or mollie
}

// ConfirmPurchaseRequest settles a pending purchase after client-side payment.
type ConfirmPurchaseRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

// CreateBoostRequest purchases a time-bounded visibility boost for a pitch.
// StartsAt is optional RFC 3339; empty means the boost starts immediately.
type CreateBoostRequest struct {
	PitchID      string `json:"pitch_id"`
	DurationDays int    `json:"duration_days"`
	StartsAt     string `json:"starts_at,omitempty"`
}

// CreateSponsorshipRequest purchases a club-targeted placement for a pitch.
type CreateSponsorshipRequest struct {
	PitchID      string `json:"pitch_id"`
	ClubID       string `json:"club_id"`
	DurationDays int    `json:"duration_days"`
	Frequency    string `json:"frequency"` // daily, weekly, monthly
	StartsAt     string `json:"starts_at,omitempty"`
}

// ReviewRedemptionRequest moves a redemption request through its workflow.
type ReviewRedemptionRequest struct {
	Action string `json:"action"` // approve, decline, fulfill
	Reason string `json:"reason,omitempty"`
}
