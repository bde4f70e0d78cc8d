package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	bursarapi "github.com/jordanlinford/ClubandCover-sub000/pkg/api/bursar"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/economy"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/kafka"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/middleware"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

// GetBadgeProgress returns the caller's progress toward every badge.
func GetBadgeProgress(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	ctx := c.Request.Context()
	counts, err := eventCounts(ctx, db, userID)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to load event counts")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to load badge progress"})
		return
	}

	awarded, err := awardedBadges(ctx, db, userID)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to load badge awards")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to load badge progress"})
		return
	}

	defs := economy.BadgeDefinitions()
	progress := make([]economy.BadgeProgress, 0, len(defs))
	for _, def := range defs {
		progress = append(progress, economy.EvaluateBadge(def, counts[def.EventType], awarded[def.Code]))
	}

	c.JSON(http.StatusOK, bursarapi.GetBadgeProgressResponse{Badges: progress, Count: len(progress)})
}

// awardedBadges returns the set of badge codes a user has earned.
func awardedBadges(ctx context.Context, q querier, userID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT badge_code FROM bursar.badge_awards
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load badge awards: %w", err)
	}
	defer rows.Close()

	awarded := make(map[string]bool)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan badge award: %w", err)
		}
		awarded[code] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load badge awards: %w", err)
	}
	return awarded, nil
}

// maybeAwardBadges checks the user's event counts against every badge
// threshold and awards any newly crossed badges. Must run inside a
// transaction that already holds the user account lock: the ON CONFLICT
// guard on badge_awards makes each bonus payout happen at most once even if
// two transactions cross the same threshold concurrently.
func maybeAwardBadges(ctx context.Context, tx *sql.Tx, userID string) ([]economy.BadgeDefinition, error) {
	counts, err := eventCounts(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	var newlyAwarded []economy.BadgeDefinition
	for _, def := range economy.BadgeDefinitions() {
		if counts[def.EventType] < def.Threshold {
			continue
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO bursar.badge_awards (user_id, badge_code)
			VALUES ($1, $2)
			ON CONFLICT (user_id, badge_code) DO NOTHING
		`, userID, def.Code)
		if err != nil {
			return nil, fmt.Errorf("failed to award badge %s: %w", def.Code, err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to award badge %s: %w", def.Code, err)
		}
		if inserted == 0 {
			continue
		}

		if def.BonusPoints > 0 {
			code := def.Code
			if _, err := appendLedgerEntry(ctx, tx, ledgerAppend{
				UserID:          userID,
				Kind:            models.KindPointAward,
				Amount:          def.BonusPoints,
				EventType:       economy.EventBadgeAwarded,
				RelatedEntityID: &code,
			}); err != nil {
				return nil, err
			}
		}

		newlyAwarded = append(newlyAwarded, def)
	}

	return newlyAwarded, nil
}

// emitBadgeEvent announces a newly earned badge. Best-effort, same as all
// economy events.
func emitBadgeEvent(userID string, badge economy.BadgeDefinition) {
	if producer == nil {
		return
	}

	event := &kafka.EconomyEvent{
		EventID:         uuid.New().String(),
		EventType:       economy.EventBadgeAwarded,
		UserID:          userID,
		Kind:            string(models.KindPointAward),
		Amount:          badge.BonusPoints,
		RelatedEntityID: badge.Code,
		Data: map[string]interface{}{
			"badge_code": badge.Code,
			"badge_name": badge.Name,
		},
		Timestamp:     time.Now(),
		SchemaVersion: "1.0",
	}

	if err := producer.PublishEconomyEvent(event); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"user_id":    userID,
			"badge_code": badge.Code,
		}).Warn("Failed to publish badge event")
	}
}
