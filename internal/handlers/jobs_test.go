package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/jordanlinford/ClubandCover-sub000/pkg/kafka"
)

func engagementMessage(t *testing.T, event kafka.EngagementEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return kafka.Message{Topic: "engagement_events", Value: value}
}

func TestHandleEngagementEventAwardsPointsAndBadge(t *testing.T) {
	mock := setupHandlerTest(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id FROM bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(testUserID))
	mock.ExpectExec("INSERT INTO bursar.engagement_events").
		WithArgs("evt-1", testUserID, "VOTE_CAST").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO bursar.ledger_entries").
		WillReturnRows(sqlmock.NewRows(ledgerColumns).
			AddRow("entry-3", testUserID, "POINT_AWARD", int64(1), "VOTE_CAST", "pitch-7", now))
	// The first vote crosses the first_vote threshold.
	mock.ExpectQuery(`SELECT event_type, COUNT\(\*\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}).
			AddRow("VOTE_CAST", int64(1)))
	mock.ExpectExec("INSERT INTO bursar.badge_awards").
		WithArgs(testUserID, "first_vote").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO bursar.ledger_entries").
		WillReturnRows(sqlmock.NewRows(ledgerColumns).
			AddRow("entry-4", testUserID, "POINT_AWARD", int64(10), "BADGE_AWARDED", "first_vote", now))
	mock.ExpectCommit()

	msg := engagementMessage(t, kafka.EngagementEvent{
		EventID:   "evt-1",
		EventType: "VOTE_CAST",
		UserID:    testUserID,
		EntityID:  "pitch-7",
		Timestamp: now,
	})

	if err := handleEngagementEvent(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandleEngagementEventDeduplicatesRedelivery(t *testing.T) {
	mock := setupHandlerTest(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT user_id FROM bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(testUserID))
	// Already applied: the dedup insert conflicts and nothing else happens.
	mock.ExpectExec("INSERT INTO bursar.engagement_events").
		WithArgs("evt-1", testUserID, "VOTE_CAST").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	msg := engagementMessage(t, kafka.EngagementEvent{
		EventID:   "evt-1",
		EventType: "VOTE_CAST",
		UserID:    testUserID,
	})

	if err := handleEngagementEvent(context.Background(), msg); err != nil {
		t.Fatalf("expected redelivery to be dropped cleanly, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHandleEngagementEventDropsMalformed(t *testing.T) {
	setupHandlerTest(t)

	msg := kafka.Message{Topic: "engagement_events", Value: []byte("not-json")}
	if err := handleEngagementEvent(context.Background(), msg); err != nil {
		t.Fatalf("expected malformed event to be dropped, got %v", err)
	}

	incomplete := engagementMessage(t, kafka.EngagementEvent{EventType: "VOTE_CAST"})
	if err := handleEngagementEvent(context.Background(), incomplete); err != nil {
		t.Fatalf("expected incomplete event to be dropped, got %v", err)
	}
}

func TestHandleEngagementEventIgnoresZeroValueEvents(t *testing.T) {
	setupHandlerTest(t)

	// Unknown event type with no explicit points: nothing to award.
	msg := engagementMessage(t, kafka.EngagementEvent{
		EventID:   "evt-2",
		EventType: "PROFILE_UPDATED",
		UserID:    testUserID,
	})
	if err := handleEngagementEvent(context.Background(), msg); err != nil {
		t.Fatalf("expected zero-value event to be ignored, got %v", err)
	}
}
