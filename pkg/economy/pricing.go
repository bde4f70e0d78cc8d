package economy

import (
	"fmt"

	"github.com/jordanlinford/ClubandCover-sub000/pkg/config"
)

// DefaultCurrency returns the purchase currency used when none is specified.
func DefaultCurrency() string {
	return config.GetEnv("BURSAR_CURRENCY", "USD")
}

// PromotionType distinguishes the two credit-funded placement products.
type PromotionType string

const (
	PromotionBoost       PromotionType = "boost"
	PromotionSponsorship PromotionType = "sponsorship"
)

// Duration tier bands. Longer commitments carry a lower daily rate.
const (
	tierWeek     = 7
	tierFortnite = 14
	tierMonth    = 30
)

// MaxPromotionDays is the longest commitment a single promotion may carry.
const MaxPromotionDays = tierMonth

var boostDailyRates = map[int]int64{
	tierWeek:     10,
	tierFortnite: 8,
	tierMonth:    6,
}

var sponsorshipDailyRates = map[int]int64{
	tierWeek:     20,
	tierFortnite: 18,
	tierMonth:    15,
}

// durationTier maps a duration in days onto its pricing band.
func durationTier(durationDays int) (int, error) {
	switch {
	case durationDays <= 0:
		return 0, fmt.Errorf("duration must be positive, got %d", durationDays)
	case durationDays <= tierWeek:
		return tierWeek, nil
	case durationDays <= tierFortnite:
		return tierFortnite, nil
	case durationDays <= tierMonth:
		return tierMonth, nil
	default:
		return 0, fmt.Errorf("duration %d exceeds maximum of %d days", durationDays, MaxPromotionDays)
	}
}

// CreditsPerDay returns the daily credit rate for a promotion of the given
// type and duration.
func CreditsPerDay(promotionType PromotionType, durationDays int) (int64, error) {
	tier, err := durationTier(durationDays)
	if err != nil {
		return 0, err
	}

	switch promotionType {
	case PromotionBoost:
		return boostDailyRates[tier], nil
	case PromotionSponsorship:
		return sponsorshipDailyRates[tier], nil
	default:
		return 0, fmt.Errorf("unknown promotion type: %s", promotionType)
	}
}

// PromotionCost computes the full upfront credit cost of a promotion. The
// entire cost is committed at creation; there is no partial commitment.
func PromotionCost(promotionType PromotionType, durationDays int) (int64, error) {
	rate, err := CreditsPerDay(promotionType, durationDays)
	if err != nil {
		return 0, err
	}
	return int64(durationDays) * rate, nil
}

// SponsorshipFrequency is how often a sponsored placement is shown to a club.
type SponsorshipFrequency string

const (
	FrequencyDaily   SponsorshipFrequency = "daily"
	FrequencyWeekly  SponsorshipFrequency = "weekly"
	FrequencyMonthly SponsorshipFrequency = "monthly"
)

// ValidFrequency reports whether f is a recognized sponsorship frequency.
func ValidFrequency(f SponsorshipFrequency) bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// CreditPackage is a purchasable bundle of credits. Bonus credits are granted
// on top of the base amount once payment is confirmed.
type CreditPackage struct {
	ID           string `json:"id"`
	BaseCredits  int64  `json:"base_credits"`
	BonusCredits int64  `json:"bonus_credits"`
	PriceCents   int64  `json:"price_cents"`
}

// TotalCredits is the number of credits the purchase ultimately yields.
func (p CreditPackage) TotalCredits() int64 {
	return p.BaseCredits + p.BonusCredits
}

var creditPackages = []CreditPackage{
	{ID: "starter", BaseCredits: 100, BonusCredits: 0, PriceCents: 999},
	{ID: "plus", BaseCredits: 250, BonusCredits: 20, PriceCents: 1999},
	{ID: "pro", BaseCredits: 500, BonusCredits: 50, PriceCents: 3999},
	{ID: "max", BaseCredits: 1000, BonusCredits: 150, PriceCents: 6999},
}

// CreditPackages returns the purchasable credit packages.
func CreditPackages() []CreditPackage {
	out := make([]CreditPackage, len(creditPackages))
	copy(out, creditPackages)
	return out
}

// PackageByID looks up a credit package by its identifier.
func PackageByID(id string) (CreditPackage, bool) {
	for _, p := range creditPackages {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPackage{}, false
}
