package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	bursarapi "github.com/jordanlinford/ClubandCover-sub000/pkg/api/bursar"
)

const (
	testRewardID     = "5f8a6b1e-0000-0000-0000-00000000f001"
	testRedemptionID = "5f8a6b1e-0000-0000-0000-00000000f002"
)

var rewardColumns = []string{
	"id", "title", "description", "points_cost", "copies_available", "copies_redeemed",
	"is_active", "created_at", "updated_at",
}

var redemptionTestColumns = []string{
	"id", "user_id", "reward_item_id", "points_spent", "status",
	"rejection_reason", "reviewed_at", "created_at", "updated_at",
}

func rewardRow(pointsCost int64, copiesAvailable interface{}, copiesRedeemed int64, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(rewardColumns).
		AddRow(testRewardID, "Signed paperback", "A signed copy", pointsCost, copiesAvailable, copiesRedeemed, active, now, now)
}

func expectRedemptionTxStart(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT user_id FROM bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(testUserID))
}

func TestRequestRedemptionSoldOut(t *testing.T) {
	mock := setupHandlerTest(t)

	expectRedemptionTxStart(mock)
	mock.ExpectQuery("SELECT (.+) FROM bursar.reward_items").
		WithArgs(testRewardID).
		WillReturnRows(rewardRow(500, int64(10), 10, true))
	// The guarded increment finds no redeemable copy.
	mock.ExpectExec("UPDATE bursar.reward_items").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	c, w := authedRequest(t, http.MethodPost, "/rewards/"+testRewardID+"/redemptions", nil)
	c.Params = gin.Params{{Key: "id", Value: testRewardID}}

	RequestRedemption(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != bursarapi.CodeRewardUnavailable {
		t.Fatalf("expected reward_unavailable, got %s", resp.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRequestRedemptionInactiveReward(t *testing.T) {
	mock := setupHandlerTest(t)

	expectRedemptionTxStart(mock)
	mock.ExpectQuery("SELECT (.+) FROM bursar.reward_items").
		WithArgs(testRewardID).
		WillReturnRows(rewardRow(500, nil, 3, false))
	mock.ExpectRollback()

	c, w := authedRequest(t, http.MethodPost, "/rewards/"+testRewardID+"/redemptions", nil)
	c.Params = gin.Params{{Key: "id", Value: testRewardID}}

	RequestRedemption(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != bursarapi.CodeRewardInactive {
		t.Fatalf("expected reward_inactive, got %s", resp.Code)
	}
}

func TestRequestRedemptionInsufficientPoints(t *testing.T) {
	mock := setupHandlerTest(t)

	expectRedemptionTxStart(mock)
	mock.ExpectQuery("SELECT (.+) FROM bursar.reward_items").
		WithArgs(testRewardID).
		WillReturnRows(rewardRow(500, nil, 3, true))
	mock.ExpectExec("UPDATE bursar.reward_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT kind, COALESCE\(SUM\(amount\), 0\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "sum"}).
			AddRow("POINT_AWARD", int64(120)))
	mock.ExpectQuery(`SELECT event_type, COUNT\(\*\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}))
	// Rolling back releases the reserved copy.
	mock.ExpectRollback()

	c, w := authedRequest(t, http.MethodPost, "/rewards/"+testRewardID+"/redemptions", nil)
	c.Params = gin.Params{{Key: "id", Value: testRewardID}}

	RequestRedemption(c)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d (%s)", w.Code, w.Body.String())
	}
	resp := decodeError(t, w)
	if resp.Code != bursarapi.CodeInsufficientPoints {
		t.Fatalf("expected insufficient_points, got %s", resp.Code)
	}
	if resp.Current == nil || *resp.Current != 120 {
		t.Fatalf("expected current 120, got %v", resp.Current)
	}
	if resp.Required == nil || *resp.Required != 500 {
		t.Fatalf("expected required 500, got %v", resp.Required)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReviewRedemptionDeclineRefundsAndReleases(t *testing.T) {
	mock := setupHandlerTest(t)
	now := time.Now()

	mock.ExpectQuery("SELECT user_id FROM bursar.redemption_requests").
		WithArgs(testRedemptionID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(testUserID))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT user_id FROM bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(testUserID))
	mock.ExpectQuery("UPDATE bursar.redemption_requests").
		WillReturnRows(sqlmock.NewRows(redemptionTestColumns).
			AddRow(testRedemptionID, testUserID, testRewardID, int64(500), "declined",
				"out of stock at the printer", now, now, now))
	mock.ExpectQuery("INSERT INTO bursar.ledger_entries").
		WillReturnRows(sqlmock.NewRows(ledgerColumns).
			AddRow("entry-2", testUserID, "POINT_AWARD", int64(500), "REDEMPTION_REFUND", testRedemptionID, now))
	mock.ExpectExec("UPDATE bursar.reward_items").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT kind, COALESCE\(SUM\(amount\), 0\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "sum"}).
			AddRow("POINT_AWARD", int64(620)).
			AddRow("POINT_SPEND", int64(-500)))
	mock.ExpectQuery(`SELECT event_type, COUNT\(\*\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}))
	mock.ExpectCommit()

	c, w := authedRequest(t, http.MethodPost, "/admin/redemptions/"+testRedemptionID+"/review",
		bursarapi.ReviewRedemptionRequest{Action: "decline", Reason: "out of stock at the printer"})
	c.Params = gin.Params{{Key: "id", Value: testRedemptionID}}

	ReviewRedemption(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReviewRedemptionDeclineRequiresReason(t *testing.T) {
	setupHandlerTest(t)

	c, w := authedRequest(t, http.MethodPost, "/admin/redemptions/"+testRedemptionID+"/review",
		bursarapi.ReviewRedemptionRequest{Action: "decline"})
	c.Params = gin.Params{{Key: "id", Value: testRedemptionID}}

	ReviewRedemption(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestReviewRedemptionInvalidTransition(t *testing.T) {
	mock := setupHandlerTest(t)

	// The request is already fulfilled; approve matches no row.
	mock.ExpectQuery("UPDATE bursar.redemption_requests").
		WillReturnRows(sqlmock.NewRows(redemptionTestColumns))

	c, w := authedRequest(t, http.MethodPost, "/admin/redemptions/"+testRedemptionID+"/review",
		bursarapi.ReviewRedemptionRequest{Action: "approve"})
	c.Params = gin.Params{{Key: "id", Value: testRedemptionID}}

	ReviewRedemption(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (%s)", w.Code, w.Body.String())
	}
	if resp := decodeError(t, w); resp.Code != bursarapi.CodeInvalidTransition {
		t.Fatalf("expected invalid_transition, got %s", resp.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCancelRedemptionRejectsOtherUsers(t *testing.T) {
	mock := setupHandlerTest(t)

	otherUser := "5f8a6b1e-0000-0000-0000-00000000f999"
	mock.ExpectQuery("SELECT user_id FROM bursar.redemption_requests").
		WithArgs(testRedemptionID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(otherUser))

	c, w := authedRequest(t, http.MethodPost, "/redemptions/"+testRedemptionID+"/cancel", nil)
	c.Params = gin.Params{{Key: "id", Value: testRedemptionID}}

	CancelRedemption(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
