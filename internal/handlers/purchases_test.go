package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"github.com/jordanlinford/ClubandCover-sub000/internal/payments"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/economy"
)

type fakeProvider struct {
	name       string
	intent     *payments.Intent
	err        error
	getCalls   int
	createReqs []payments.CreateIntentRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) CreateIntent(ctx context.Context, req payments.CreateIntentRequest) (*payments.Intent, error) {
	f.createReqs = append(f.createReqs, req)
	return f.intent, f.err
}

func (f *fakeProvider) GetIntent(ctx context.Context, intentID string) (*payments.Intent, error) {
	f.getCalls++
	return f.intent, f.err
}

const (
	testUserID     = "5f8a6b1e-0000-0000-0000-00000000aaaa"
	testPurchaseID = "5f8a6b1e-0000-0000-0000-00000000bbbb"
)

var purchaseColumns = []string{
	"id", "user_id", "credits_requested", "price_cents", "currency", "provider",
	"payment_intent_id", "status", "failure_reason", "confirmed_at", "created_at", "updated_at",
}

var ledgerColumns = []string{"id", "user_id", "kind", "amount", "event_type", "related_entity_id", "created_at"}

func purchaseRow(status string) *sqlmock.Rows {
	now := time.Now()
	var confirmedAt interface{}
	if status == "confirmed" {
		confirmedAt = now
	}
	return sqlmock.NewRows(purchaseColumns).
		AddRow(testPurchaseID, testUserID, int64(550), int64(3999), "USD", "stripe",
			"pi_test", status, nil, confirmedAt, now, now)
}

func setupPurchaseTest(t *testing.T, provider payments.Provider) sqlmock.Sqlmock {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db = mockDB
	logger = logrus.New()
	metrics = nil
	producer = nil
	scorer = economy.DefaultScorer()
	providers = map[string]payments.Provider{"stripe": provider}
	t.Cleanup(func() {
		mockDB.Close()
		db = nil
		providers = nil
	})

	return mock
}

func TestSettlePurchaseNotFound(t *testing.T) {
	mock := setupPurchaseTest(t, &fakeProvider{name: "stripe"})

	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("pi_missing").
		WillReturnRows(sqlmock.NewRows(purchaseColumns))

	_, _, err := settlePurchaseByIntent(context.Background(), "pi_missing")
	if !errors.Is(err, errPurchaseNotFound) {
		t.Fatalf("expected errPurchaseNotFound, got %v", err)
	}
}

func TestSettlePurchaseAlreadyConfirmed(t *testing.T) {
	provider := &fakeProvider{name: "stripe"}
	mock := setupPurchaseTest(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("pi_test").
		WillReturnRows(purchaseRow("confirmed"))

	_, _, err := settlePurchaseByIntent(context.Background(), "pi_test")
	if !errors.Is(err, errAlreadyProcessed) {
		t.Fatalf("expected errAlreadyProcessed, got %v", err)
	}
	if provider.getCalls != 0 {
		t.Fatalf("expected no provider verification for a settled purchase, got %d calls", provider.getCalls)
	}
}

func TestSettlePurchaseCreditsExactlyOnce(t *testing.T) {
	provider := &fakeProvider{
		name:   "stripe",
		intent: &payments.Intent{ID: "pi_test", Status: payments.IntentSucceeded},
	}
	mock := setupPurchaseTest(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("pi_test").
		WillReturnRows(purchaseRow("created"))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id FROM bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(testUserID))
	mock.ExpectQuery("UPDATE bursar.pending_purchases").
		WillReturnRows(purchaseRow("confirmed"))
	mock.ExpectQuery("INSERT INTO bursar.ledger_entries").
		WillReturnRows(sqlmock.NewRows(ledgerColumns).
			AddRow("entry-1", testUserID, "CREDIT_PURCHASE", int64(550), "CREDIT_PURCHASE_CONFIRMED", testPurchaseID, time.Now()))
	// Badge evaluation and the final balance projection.
	mock.ExpectQuery(`SELECT event_type, COUNT\(\*\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}).
			AddRow("CREDIT_PURCHASE_CONFIRMED", int64(1)))
	mock.ExpectQuery(`SELECT kind, COALESCE\(SUM\(amount\), 0\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "sum"}).
			AddRow("CREDIT_PURCHASE", int64(550)))
	mock.ExpectQuery(`SELECT event_type, COUNT\(\*\)`).
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"event_type", "count"}).
			AddRow("CREDIT_PURCHASE_CONFIRMED", int64(1)))
	mock.ExpectCommit()

	purchase, balance, err := settlePurchaseByIntent(context.Background(), "pi_test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if purchase.Status != "confirmed" {
		t.Fatalf("expected confirmed purchase, got %s", purchase.Status)
	}
	if balance.CreditBalance != 550 {
		t.Fatalf("expected 550 credits, got %d", balance.CreditBalance)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettlePurchaseLosesConfirmRace(t *testing.T) {
	provider := &fakeProvider{
		name:   "stripe",
		intent: &payments.Intent{ID: "pi_test", Status: payments.IntentSucceeded},
	}
	mock := setupPurchaseTest(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("pi_test").
		WillReturnRows(purchaseRow("created"))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT user_id FROM bursar.user_accounts").
		WithArgs(testUserID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(testUserID))
	// A concurrent confirmation won the created->confirmed transition.
	mock.ExpectQuery("UPDATE bursar.pending_purchases").
		WillReturnRows(sqlmock.NewRows(purchaseColumns))
	mock.ExpectRollback()

	_, _, err := settlePurchaseByIntent(context.Background(), "pi_test")
	if !errors.Is(err, errAlreadyProcessed) {
		t.Fatalf("expected errAlreadyProcessed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettlePurchaseProviderReportsFailure(t *testing.T) {
	provider := &fakeProvider{
		name:   "stripe",
		intent: &payments.Intent{ID: "pi_test", Status: payments.IntentFailed},
	}
	mock := setupPurchaseTest(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("pi_test").
		WillReturnRows(purchaseRow("created"))
	mock.ExpectExec("UPDATE bursar.pending_purchases").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, _, err := settlePurchaseByIntent(context.Background(), "pi_test")
	if !errors.Is(err, errPaymentNotSucceeded) {
		t.Fatalf("expected errPaymentNotSucceeded, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettlePurchaseStillPendingAtProvider(t *testing.T) {
	provider := &fakeProvider{
		name:   "stripe",
		intent: &payments.Intent{ID: "pi_test", Status: payments.IntentPending},
	}
	mock := setupPurchaseTest(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("pi_test").
		WillReturnRows(purchaseRow("created"))

	// No writes: the purchase stays created for a later attempt.
	_, _, err := settlePurchaseByIntent(context.Background(), "pi_test")
	if !errors.Is(err, errPaymentNotSucceeded) {
		t.Fatalf("expected errPaymentNotSucceeded, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettlePurchaseProviderUnreachable(t *testing.T) {
	provider := &fakeProvider{name: "stripe", err: errors.New("connection refused")}
	mock := setupPurchaseTest(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("pi_test").
		WillReturnRows(purchaseRow("created"))

	_, _, err := settlePurchaseByIntent(context.Background(), "pi_test")
	if err == nil || errors.Is(err, errAlreadyProcessed) || errors.Is(err, errPaymentNotSucceeded) {
		t.Fatalf("expected opaque verification error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
