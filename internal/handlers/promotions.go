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
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/middleware"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

// promotionSpec is the validated input for creating either promotion product.
type promotionSpec struct {
	promotionType economy.PromotionType
	subjectID     string
	clubID        *string
	frequency     *string
	durationDays  int
	startsAt      time.Time
	eventType     string
}

// CreateBoost purchases a visibility boost for a pitch, debiting the full
// credit cost upfront.
func CreateBoost(c middleware.Context) {
	var req bursarapi.CreateBoostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body", Code: bursarapi.CodeInvalidRequest})
		return
	}
	if req.PitchID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "pitch_id is required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	startsAt, err := parseStartsAt(req.StartsAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error(), Code: bursarapi.CodeInvalidRequest})
		return
	}

	createPromotion(c, promotionSpec{
		promotionType: economy.PromotionBoost,
		subjectID:     req.PitchID,
		durationDays:  req.DurationDays,
		startsAt:      startsAt,
		eventType:     economy.EventBoostPurchased,
	})
}

// CreateSponsorship purchases a club-targeted placement for a pitch.
func CreateSponsorship(c middleware.Context) {
	var req bursarapi.CreateSponsorshipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body", Code: bursarapi.CodeInvalidRequest})
		return
	}
	if req.PitchID == "" || req.ClubID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "pitch_id and club_id are required", Code: bursarapi.CodeInvalidRequest})
		return
	}
	if !economy.ValidFrequency(economy.SponsorshipFrequency(req.Frequency)) {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: fmt.Sprintf("Invalid sponsorship frequency: %s", req.Frequency), Code: bursarapi.CodeInvalidRequest})
		return
	}

	startsAt, err := parseStartsAt(req.StartsAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error(), Code: bursarapi.CodeInvalidRequest})
		return
	}

	clubID := req.ClubID
	frequency := req.Frequency
	createPromotion(c, promotionSpec{
		promotionType: economy.PromotionSponsorship,
		subjectID:     req.PitchID,
		clubID:        &clubID,
		frequency:     &frequency,
		durationDays:  req.DurationDays,
		startsAt:      startsAt,
		eventType:     economy.EventSponsorshipCreated,
	})
}

// createPromotion runs the shared debit-and-create transaction. The user
// account lock serializes the balance check against every other spend, so two
// concurrent purchases can never both pass the check on the same credits.
func createPromotion(c middleware.Context, spec promotionSpec) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	cost, err := economy.PromotionCost(spec.promotionType, spec.durationDays)
	if err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error(), Code: bursarapi.CodeInvalidRequest})
		return
	}

	ctx := c.Request.Context()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to begin promotion transaction")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}
	defer tx.Rollback()

	if err := ensureUserAccount(ctx, tx, userID); err != nil {
		logger.WithError(err).Error("Failed to ensure user account")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}
	if err := lockUserAccount(ctx, tx, userID); err != nil {
		logger.WithError(err).Error("Failed to lock user account")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}

	balance, err := computeBalance(ctx, tx, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to compute balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}
	if balance.CreditBalance < cost {
		c.JSON(http.StatusPaymentRequired, bursarapi.ShortfallError(
			bursarapi.CodeInsufficientCredits, "Insufficient credits", balance.CreditBalance, cost))
		return
	}

	promotionID := uuid.New().String()
	endsAt := spec.startsAt.Add(time.Duration(spec.durationDays) * 24 * time.Hour)

	var promotion models.Promotion
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bursar.promotions
			(id, owner_id, promotion_type, subject_id, club_id, credits_committed, frequency, status, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, owner_id, promotion_type, subject_id, club_id, credits_committed,
			frequency, status, starts_at, ends_at, created_at, updated_at
	`, promotionID, userID, string(spec.promotionType), spec.subjectID, spec.clubID,
		cost, spec.frequency, models.PromotionActive, spec.startsAt, endsAt).Scan(
		&promotion.ID, &promotion.OwnerID, &promotion.PromotionType, &promotion.SubjectID,
		&promotion.ClubID, &promotion.CreditsCommitted, &promotion.Frequency, &promotion.Status,
		&promotion.StartsAt, &promotion.EndsAt, &promotion.CreatedAt, &promotion.UpdatedAt)
	if err != nil {
		logger.WithError(err).Error("Failed to insert promotion")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}

	entry, err := appendLedgerEntry(ctx, tx, ledgerAppend{
		UserID:          userID,
		Kind:            models.KindCreditSpend,
		Amount:          -cost,
		EventType:       spec.eventType,
		RelatedEntityID: &promotion.ID,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to debit promotion cost")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}

	awarded, err := maybeAwardBadges(ctx, tx, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to evaluate badges")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}

	finalBalance, err := computeBalance(ctx, tx, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to compute balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}

	if err := tx.Commit(); err != nil {
		logger.WithError(err).Error("Failed to commit promotion")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to create promotion"})
		return
	}

	if metrics != nil {
		metrics.Promotions.WithLabelValues(string(spec.promotionType), models.PromotionActive).Inc()
	}

	logger.WithFields(logging.Fields{
		"user_id":        userID,
		"promotion_id":   promotion.ID,
		"promotion_type": spec.promotionType,
		"credits":        cost,
		"duration_days":  spec.durationDays,
	}).Info("Created promotion")

	emitLedgerEvent(spec.eventType, entry, map[string]interface{}{
		"promotion_id":   promotion.ID,
		"promotion_type": string(spec.promotionType),
		"subject_id":     spec.subjectID,
	})
	for _, badge := range awarded {
		emitBadgeEvent(userID, badge)
	}

	c.JSON(http.StatusCreated, bursarapi.CreatePromotionResponse{Promotion: promotion, Balance: finalBalance})
}

// GetPromotions lists the caller's promotions, expiring any whose window has
// lapsed before reading.
func GetPromotions(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	ctx := c.Request.Context()
	if err := expirePromotions(ctx, userID); err != nil {
		logger.WithError(err).Warn("Failed to expire lapsed promotions")
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, owner_id, promotion_type, subject_id, club_id, credits_committed,
			frequency, status, starts_at, ends_at, created_at, updated_at
		FROM bursar.promotions
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch promotions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch promotions"})
		return
	}
	defer rows.Close()

	var promotions []models.Promotion
	for rows.Next() {
		var p models.Promotion
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.PromotionType, &p.SubjectID, &p.ClubID,
			&p.CreditsCommitted, &p.Frequency, &p.Status, &p.StartsAt, &p.EndsAt,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			logger.WithError(err).Error("Error scanning promotion")
			continue
		}
		promotions = append(promotions, p)
	}
	if err := rows.Err(); err != nil {
		logger.WithError(err).Error("Failed to fetch promotions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch promotions"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.GetPromotionsResponse{Promotions: promotions, Count: len(promotions)})
}

// CancelPromotion cancels one of the caller's promotions and refunds its
// credits. Only promotions that have not started yet can be cancelled; a
// running or finished promotion has consumed its placement window.
func CancelPromotion(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}
	promotionID := c.Param("id")

	ctx := c.Request.Context()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to begin cancellation transaction")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to cancel promotion"})
		return
	}
	defer tx.Rollback()

	if err := ensureUserAccount(ctx, tx, userID); err != nil {
		logger.WithError(err).Error("Failed to ensure user account")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to cancel promotion"})
		return
	}
	if err := lockUserAccount(ctx, tx, userID); err != nil {
		logger.WithError(err).Error("Failed to lock user account")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to cancel promotion"})
		return
	}

	var promotion models.Promotion
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.promotions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND owner_id = $3 AND status = $4 AND starts_at > NOW()
		RETURNING id, owner_id, promotion_type, subject_id, club_id, credits_committed,
			frequency, status, starts_at, ends_at, created_at, updated_at
	`, models.PromotionCancelled, promotionID, userID, models.PromotionActive).Scan(
		&promotion.ID, &promotion.OwnerID, &promotion.PromotionType, &promotion.SubjectID,
		&promotion.ClubID, &promotion.CreditsCommitted, &promotion.Frequency, &promotion.Status,
		&promotion.StartsAt, &promotion.EndsAt, &promotion.CreatedAt, &promotion.UpdatedAt)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{
			Error: "Promotion cannot be cancelled", Code: bursarapi.CodeInvalidTransition})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to cancel promotion")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to cancel promotion"})
		return
	}

	entry, err := appendLedgerEntry(ctx, tx, ledgerAppend{
		UserID:          userID,
		Kind:            models.KindCreditRefund,
		Amount:          promotion.CreditsCommitted,
		EventType:       economy.EventPromotionCancelled,
		RelatedEntityID: &promotion.ID,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to refund promotion credits")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to cancel promotion"})
		return
	}

	balance, err := computeBalance(ctx, tx, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to compute balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to cancel promotion"})
		return
	}

	if err := tx.Commit(); err != nil {
		logger.WithError(err).Error("Failed to commit cancellation")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to cancel promotion"})
		return
	}

	if metrics != nil {
		metrics.Promotions.WithLabelValues(promotion.PromotionType, models.PromotionCancelled).Inc()
	}

	logger.WithFields(logging.Fields{
		"user_id":      userID,
		"promotion_id": promotion.ID,
		"refunded":     promotion.CreditsCommitted,
	}).Info("Cancelled promotion")

	emitLedgerEvent(economy.EventPromotionCancelled, entry, map[string]interface{}{
		"promotion_id": promotion.ID,
	})

	c.JSON(http.StatusOK, bursarapi.CreatePromotionResponse{Promotion: promotion, Balance: balance})
}

// expirePromotions marks a user's lapsed promotions as expired. The committed
// credits were consumed by the placement; expiry never refunds.
func expirePromotions(ctx context.Context, userID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE bursar.promotions
		SET status = $1, updated_at = NOW()
		WHERE owner_id = $2 AND status = $3 AND ends_at <= NOW()
	`, models.PromotionExpired, userID, models.PromotionActive)
	return err
}

func parseStartsAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("starts_at must be RFC 3339: %v", err)
	}
	if parsed.Before(time.Now()) {
		return time.Time{}, fmt.Errorf("starts_at must be in the future")
	}
	return parsed, nil
}
