package economy

// ReputationScorer derives a reputation score from per-event-type counts of a
// user's ledger history. It must be a pure function: same counts, same score.
type ReputationScorer interface {
	Score(eventCounts map[string]int64) int64
}

// WeightedScorer scores reputation as a weighted sum of event counts.
// Event types without a weight contribute nothing.
type WeightedScorer struct {
	Weights map[string]int64
}

// Score implements ReputationScorer.
func (s WeightedScorer) Score(eventCounts map[string]int64) int64 {
	var total int64
	for eventType, count := range eventCounts {
		total += s.Weights[eventType] * count
	}
	if total < 0 {
		total = 0
	}
	return total
}

// DefaultScorer returns the platform's default reputation weighting.
// Engagement that other members verify weighs more than raw activity.
func DefaultScorer() ReputationScorer {
	return WeightedScorer{Weights: map[string]int64{
		EventVoteCast:       1,
		EventPitchPublished: 5,
		EventSwapVerified:   10,
		EventClubHosted:     8,
		EventBadgeAwarded:   3,
	}}
}
