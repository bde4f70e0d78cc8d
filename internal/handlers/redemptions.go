package handlers

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/lib/pq"

	bursarapi "github.com/jordanlinford/ClubandCover-sub000/pkg/api/bursar"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/economy"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/middleware"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

const redemptionColumns = `id, user_id, reward_item_id, points_spent, status,
	rejection_reason, reviewed_at, created_at, updated_at`

// GetRewards lists the active reward catalog.
func GetRewards(c middleware.Context) {
	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT id, title, description, points_cost, copies_available, copies_redeemed,
			is_active, created_at, updated_at
		FROM bursar.reward_items
		WHERE is_active = true
		ORDER BY points_cost ASC
	`)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch rewards")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch rewards"})
		return
	}
	defer rows.Close()

	var rewards []models.RewardItem
	for rows.Next() {
		var r models.RewardItem
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.PointsCost, &r.CopiesAvailable,
			&r.CopiesRedeemed, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			logger.WithError(err).Error("Error scanning reward item")
			continue
		}
		rewards = append(rewards, r)
	}
	if err := rows.Err(); err != nil {
		logger.WithError(err).Error("Failed to fetch rewards")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch rewards"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.GetRewardsResponse{Rewards: rewards, Count: len(rewards)})
}

// RequestRedemption claims a reward for points. Inventory is reserved with a
// guarded increment and the points check runs in the same transaction, so an
// insufficient balance rolls the reservation back automatically. Lock order
// is always user account first, then reward row.
func RequestRedemption(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}
	rewardID := c.Param("id")

	ctx := c.Request.Context()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to begin redemption transaction")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}
	defer tx.Rollback()

	if err := ensureUserAccount(ctx, tx, userID); err != nil {
		logger.WithError(err).Error("Failed to ensure user account")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}
	if err := lockUserAccount(ctx, tx, userID); err != nil {
		logger.WithError(err).Error("Failed to lock user account")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}

	var reward models.RewardItem
	err = tx.QueryRowContext(ctx, `
		SELECT id, title, description, points_cost, copies_available, copies_redeemed,
			is_active, created_at, updated_at
		FROM bursar.reward_items
		WHERE id = $1
	`, rewardID).Scan(&reward.ID, &reward.Title, &reward.Description, &reward.PointsCost,
		&reward.CopiesAvailable, &reward.CopiesRedeemed, &reward.IsActive,
		&reward.CreatedAt, &reward.UpdatedAt)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Reward not found", Code: bursarapi.CodeNotFound})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load reward")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}
	if !reward.IsActive {
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{Error: "Reward is not active", Code: bursarapi.CodeRewardInactive})
		return
	}

	// Guarded increment reserves one copy. Zero rows means the inventory is
	// exhausted or the reward was deactivated since the read above.
	result, err := tx.ExecContext(ctx, `
		UPDATE bursar.reward_items
		SET copies_redeemed = copies_redeemed + 1, updated_at = NOW()
		WHERE id = $1 AND is_active = true
			AND (copies_available IS NULL OR copies_redeemed < copies_available)
	`, rewardID)
	if err != nil {
		logger.WithError(err).Error("Failed to reserve reward inventory")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}
	reserved, err := result.RowsAffected()
	if err != nil {
		logger.WithError(err).Error("Failed to reserve reward inventory")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}
	if reserved == 0 {
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{Error: "Reward is sold out", Code: bursarapi.CodeRewardUnavailable})
		return
	}

	balance, err := computeBalance(ctx, tx, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to compute balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}
	if balance.Points < reward.PointsCost {
		// Rollback releases the reserved copy along with everything else.
		c.JSON(http.StatusPaymentRequired, bursarapi.ShortfallError(
			bursarapi.CodeInsufficientPoints, "Insufficient points", balance.Points, reward.PointsCost))
		return
	}

	var redemption models.RedemptionRequest
	err = tx.QueryRowContext(ctx, `
		INSERT INTO bursar.redemption_requests (user_id, reward_item_id, points_spent, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+redemptionColumns+`
	`, userID, rewardID, reward.PointsCost, models.RedemptionPending).Scan(
		&redemption.ID, &redemption.UserID, &redemption.RewardItemID, &redemption.PointsSpent,
		&redemption.Status, &redemption.RejectionReason, &redemption.ReviewedAt,
		&redemption.CreatedAt, &redemption.UpdatedAt)
	if err != nil {
		logger.WithError(err).Error("Failed to insert redemption request")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}

	entry, err := appendLedgerEntry(ctx, tx, ledgerAppend{
		UserID:          userID,
		Kind:            models.KindPointSpend,
		Amount:          -reward.PointsCost,
		EventType:       economy.EventRedemptionRequested,
		RelatedEntityID: &redemption.ID,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to debit redemption points")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}

	finalBalance, err := computeBalance(ctx, tx, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to compute balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}

	if err := tx.Commit(); err != nil {
		logger.WithError(err).Error("Failed to commit redemption request")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to request redemption"})
		return
	}

	if metrics != nil {
		metrics.Redemptions.WithLabelValues(models.RedemptionPending).Inc()
	}

	logger.WithFields(logging.Fields{
		"user_id":       userID,
		"redemption_id": redemption.ID,
		"reward_id":     rewardID,
		"points":        reward.PointsCost,
	}).Info("Requested redemption")

	emitLedgerEvent(economy.EventRedemptionRequested, entry, map[string]interface{}{
		"redemption_id": redemption.ID,
		"reward_id":     rewardID,
	})

	c.JSON(http.StatusCreated, bursarapi.RedemptionResponse{Redemption: redemption, Balance: &finalBalance})
}

// GetRedemptions lists the caller's redemption requests, newest first.
func GetRedemptions(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT `+redemptionColumns+`
		FROM bursar.redemption_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch redemptions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch redemptions"})
		return
	}
	defer rows.Close()

	resp, err := scanRedemptions(rows)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch redemptions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch redemptions"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListRedemptions is the admin view, optionally filtered by status.
func ListRedemptions(c middleware.Context) {
	status := c.Query("status")

	query := `SELECT ` + redemptionColumns + ` FROM bursar.redemption_requests`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT 500`

	rows, err := db.QueryContext(c.Request.Context(), query, args...)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch redemptions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch redemptions"})
		return
	}
	defer rows.Close()

	resp, err := scanRedemptions(rows)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch redemptions")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch redemptions"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func scanRedemptions(rows *sql.Rows) (bursarapi.GetRedemptionsResponse, error) {
	var redemptions []models.RedemptionRequest
	for rows.Next() {
		var r models.RedemptionRequest
		if err := rows.Scan(&r.ID, &r.UserID, &r.RewardItemID, &r.PointsSpent, &r.Status,
			&r.RejectionReason, &r.ReviewedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			logger.WithError(err).Error("Error scanning redemption request")
			continue
		}
		redemptions = append(redemptions, r)
	}
	if err := rows.Err(); err != nil {
		return bursarapi.GetRedemptionsResponse{}, err
	}
	return bursarapi.GetRedemptionsResponse{Redemptions: redemptions, Count: len(redemptions)}, nil
}

// ReviewRedemption moves a redemption through its workflow. Approve and
// fulfill are pure status transitions; decline refunds the points and
// releases the reserved copy in one transaction.
func ReviewRedemption(c middleware.Context) {
	redemptionID := c.Param("id")

	var req bursarapi.ReviewRedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Invalid request body", Code: bursarapi.CodeInvalidRequest})
		return
	}

	switch req.Action {
	case "approve":
		transitionRedemption(c, redemptionID, models.RedemptionApproved, []string{models.RedemptionPending})
	case "fulfill":
		transitionRedemption(c, redemptionID, models.RedemptionFulfilled, []string{models.RedemptionPending, models.RedemptionApproved})
	case "decline":
		if req.Reason == "" {
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "A reason is required to decline", Code: bursarapi.CodeInvalidRequest})
			return
		}
		reverseRedemption(c, redemptionID, "", models.RedemptionDeclined, req.Reason)
	default:
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: fmt.Sprintf("Unknown review action: %s", req.Action), Code: bursarapi.CodeInvalidRequest})
	}
}

// CancelRedemption lets a user withdraw their own pending request. Same
// reversal semantics as an admin decline, without a reason.
func CancelRedemption(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}
	reverseRedemption(c, c.Param("id"), userID, models.RedemptionCancelled, "")
}

// transitionRedemption performs a guarded status move with no balance effect.
func transitionRedemption(c middleware.Context, redemptionID, toStatus string, fromStatuses []string) {
	ctx := c.Request.Context()

	query := `
		UPDATE bursar.redemption_requests
		SET status = $1, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
		RETURNING ` + redemptionColumns

	var redemption models.RedemptionRequest
	err := db.QueryRowContext(ctx, query, toStatus, redemptionID, pq.Array(fromStatuses)).Scan(
		&redemption.ID, &redemption.UserID, &redemption.RewardItemID, &redemption.PointsSpent,
		&redemption.Status, &redemption.RejectionReason, &redemption.ReviewedAt,
		&redemption.CreatedAt, &redemption.UpdatedAt)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{
			Error: fmt.Sprintf("Redemption cannot move to %s", toStatus), Code: bursarapi.CodeInvalidTransition})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to review redemption")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to review redemption"})
		return
	}

	if metrics != nil {
		metrics.Redemptions.WithLabelValues(toStatus).Inc()
	}

	logger.WithFields(logging.Fields{
		"redemption_id": redemption.ID,
		"status":        toStatus,
	}).Info("Reviewed redemption")

	c.JSON(http.StatusOK, bursarapi.RedemptionResponse{Redemption: redemption})
}

// reverseRedemption declines or cancels a pending request, refunding the
// points and releasing the reserved copy atomically. ownerID, when set,
// restricts the reversal to the requesting user's own rows.
func reverseRedemption(c middleware.Context, redemptionID, ownerID, toStatus, reason string) {
	ctx := c.Request.Context()

	// The user lock must be taken before touching the request row, so the
	// owner is read first. The guarded UPDATE below re-checks the status.
	var lockUser string
	err := db.QueryRowContext(ctx, `
		SELECT user_id FROM bursar.redemption_requests WHERE id = $1
	`, redemptionID).Scan(&lockUser)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Redemption not found", Code: bursarapi.CodeNotFound})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load redemption")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reverse redemption"})
		return
	}
	if ownerID != "" && lockUser != ownerID {
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Redemption not found", Code: bursarapi.CodeNotFound})
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to begin reversal transaction")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reverse redemption"})
		return
	}
	defer tx.Rollback()

	if err := lockUserAccount(ctx, tx, lockUser); err != nil {
		logger.WithError(err).Error("Failed to lock user account")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reverse redemption"})
		return
	}

	var rejectionReason *string
	if reason != "" {
		rejectionReason = &reason
	}

	var redemption models.RedemptionRequest
	err = tx.QueryRowContext(ctx, `
		UPDATE bursar.redemption_requests
		SET status = $1, rejection_reason = $2, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status = $4
		RETURNING `+redemptionColumns+`
	`, toStatus, rejectionReason, redemptionID, models.RedemptionPending).Scan(
		&redemption.ID, &redemption.UserID, &redemption.RewardItemID, &redemption.PointsSpent,
		&redemption.Status, &redemption.RejectionReason, &redemption.ReviewedAt,
		&redemption.CreatedAt, &redemption.UpdatedAt)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{
			Error: "Only pending redemptions can be reversed", Code: bursarapi.CodeInvalidTransition})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to reverse redemption")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reverse redemption"})
		return
	}

	entry, err := appendLedgerEntry(ctx, tx, ledgerAppend{
		UserID:          redemption.UserID,
		Kind:            models.KindPointAward,
		Amount:          redemption.PointsSpent,
		EventType:       economy.EventRedemptionRefund,
		RelatedEntityID: &redemption.ID,
	})
	if err != nil {
		logger.WithError(err).Error("Failed to refund redemption points")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reverse redemption"})
		return
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE bursar.reward_items
		SET copies_redeemed = copies_redeemed - 1, updated_at = NOW()
		WHERE id = $1 AND copies_redeemed > 0
	`, redemption.RewardItemID); err != nil {
		logger.WithError(err).Error("Failed to release reward inventory")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reverse redemption"})
		return
	}

	balance, err := computeBalance(ctx, tx, redemption.UserID)
	if err != nil {
		logger.WithError(err).Error("Failed to compute balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reverse redemption"})
		return
	}

	if err := tx.Commit(); err != nil {
		logger.WithError(err).Error("Failed to commit reversal")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to reverse redemption"})
		return
	}

	if metrics != nil {
		metrics.Redemptions.WithLabelValues(toStatus).Inc()
	}

	logger.WithFields(logging.Fields{
		"redemption_id": redemption.ID,
		"user_id":       redemption.UserID,
		"status":        toStatus,
		"refunded":      redemption.PointsSpent,
	}).Info("Reversed redemption")

	emitLedgerEvent(economy.EventRedemptionRefund, entry, map[string]interface{}{
		"redemption_id": redemption.ID,
		"status":        toStatus,
	})

	c.JSON(http.StatusOK, bursarapi.RedemptionResponse{Redemption: redemption, Balance: &balance})
}
