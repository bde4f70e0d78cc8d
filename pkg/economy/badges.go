package economy

// Ledger event types the engine writes or counts. Engagement events arrive
// from the platform via Kafka; promotion and redemption events are emitted by
// the engine itself.
const (
	EventVoteCast            = "VOTE_CAST"
	EventPitchPublished      = "PITCH_PUBLISHED"
	EventSwapVerified        = "SWAP_VERIFIED"
	EventClubHosted          = "CLUB_HOSTED"
	EventBadgeAwarded        = "BADGE_AWARDED"
	EventCreditPurchase      = "CREDIT_PURCHASE_CONFIRMED"
	EventBoostPurchased      = "BOOST_PURCHASED"
	EventSponsorshipCreated  = "SPONSORSHIP_CREATED"
	EventPromotionCancelled  = "PROMOTION_CANCELLED"
	EventRedemptionRequested = "REDEMPTION_REQUESTED"
	EventRedemptionRefund    = "REDEMPTION_REFUND"
)

// BadgeDefinition describes an achievement earned by crossing an event-count
// threshold. BonusPoints, if non-zero, are awarded to the ledger exactly once
// when the badge is first earned.
type BadgeDefinition struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	EventType   string `json:"event_type"`
	Threshold   int64  `json:"threshold"`
	BonusPoints int64  `json:"bonus_points"`
}

var badgeDefinitions = []BadgeDefinition{
	{Code: "first_vote", Name: "First Vote", Description: "Cast your first pitch vote", EventType: EventVoteCast, Threshold: 1, BonusPoints: 10},
	{Code: "avid_voter", Name: "Avid Voter", Description: "Cast 50 pitch votes", EventType: EventVoteCast, Threshold: 50, BonusPoints: 100},
	{Code: "debut_author", Name: "Debut Author", Description: "Publish your first pitch", EventType: EventPitchPublished, Threshold: 1, BonusPoints: 25},
	{Code: "prolific_author", Name: "Prolific Author", Description: "Publish 10 pitches", EventType: EventPitchPublished, Threshold: 10, BonusPoints: 200},
	{Code: "trusted_trader", Name: "Trusted Trader", Description: "Complete 10 verified swaps", EventType: EventSwapVerified, Threshold: 10, BonusPoints: 150},
	{Code: "club_founder", Name: "Club Founder", Description: "Host your first club", EventType: EventClubHosted, Threshold: 1, BonusPoints: 50},
	{Code: "patron", Name: "Patron", Description: "Fund your first boost", EventType: EventBoostPurchased, Threshold: 1, BonusPoints: 20},
}

// BadgeDefinitions returns all badge definitions.
func BadgeDefinitions() []BadgeDefinition {
	out := make([]BadgeDefinition, len(badgeDefinitions))
	copy(out, badgeDefinitions)
	return out
}

// BadgeByCode looks up a badge definition by code.
func BadgeByCode(code string) (BadgeDefinition, bool) {
	for _, b := range badgeDefinitions {
		if b.Code == code {
			return b, true
		}
	}
	return BadgeDefinition{}, false
}

// BadgeProgress is the read-side progress of one user toward one badge.
type BadgeProgress struct {
	Badge    BadgeDefinition `json:"badge"`
	Earned   bool            `json:"earned"`
	Current  int64           `json:"current"`
	Required int64           `json:"required"`
}

// EvaluateBadge derives earned status and progress from an event count.
// Safe to recompute at any time; it has no side effects.
func EvaluateBadge(def BadgeDefinition, count int64, awarded bool) BadgeProgress {
	progress := BadgeProgress{
		Badge:    def,
		Earned:   awarded || count >= def.Threshold,
		Current:  count,
		Required: def.Threshold,
	}
	if progress.Current > def.Threshold {
		progress.Current = def.Threshold
	}
	return progress
}
