package economy

import (
	"testing"
)

func TestEvaluateBadge(t *testing.T) {
	def := BadgeDefinition{Code: "avid_voter", EventType: EventVoteCast, Threshold: 50, BonusPoints: 100}

	progress := EvaluateBadge(def, 12, false)
	if progress.Earned {
		t.Fatal("expected badge not earned at 12/50")
	}
	if progress.Current != 12 || progress.Required != 50 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	progress = EvaluateBadge(def, 50, false)
	if !progress.Earned {
		t.Fatal("expected badge earned at threshold")
	}

	// Counts past the threshold are clamped for display.
	progress = EvaluateBadge(def, 80, true)
	if !progress.Earned {
		t.Fatal("expected awarded badge to stay earned")
	}
	if progress.Current != 50 {
		t.Fatalf("expected clamped count 50, got %d", progress.Current)
	}
}

func TestEvaluateBadgeHonorsAwardedFlag(t *testing.T) {
	// An awarded badge stays earned even if the count later drops below the
	// threshold (refunded entries still count toward history).
	def := BadgeDefinition{Code: "first_vote", EventType: EventVoteCast, Threshold: 1}
	progress := EvaluateBadge(def, 0, true)
	if !progress.Earned {
		t.Fatal("expected previously awarded badge to remain earned")
	}
}

func TestBadgeByCode(t *testing.T) {
	def, ok := BadgeByCode("patron")
	if !ok {
		t.Fatal("expected patron badge to exist")
	}
	if def.EventType != EventBoostPurchased || def.Threshold != 1 {
		t.Fatalf("unexpected patron definition: %+v", def)
	}

	if _, ok := BadgeByCode("nonexistent"); ok {
		t.Fatal("expected unknown badge to be absent")
	}
}

func TestBadgeDefinitionsAreCopied(t *testing.T) {
	defs := BadgeDefinitions()
	if len(defs) == 0 {
		t.Fatal("expected badge definitions")
	}
	defs[0].Code = "mutated"
	if fresh := BadgeDefinitions(); fresh[0].Code == "mutated" {
		t.Fatal("expected BadgeDefinitions to return a copy")
	}
}
