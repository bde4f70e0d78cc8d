package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/jordanlinford/ClubandCover-sub000/internal/payments"
)

func stripeSignatureHeader(payload []byte, secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)
	secret := "whsec_unit_test"
	now := time.Now()

	header := stripeSignatureHeader(payload, secret, now.Unix())
	if err := verifyStripeSignature(payload, header, secret, now); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyStripeSignatureWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()

	header := stripeSignatureHeader(payload, "whsec_a", now.Unix())
	if err := verifyStripeSignature(payload, header, "whsec_b", now); err == nil {
		t.Fatal("expected signature mismatch")
	}
}

func TestVerifyStripeSignatureTamperedPayload(t *testing.T) {
	secret := "whsec_unit_test"
	now := time.Now()

	header := stripeSignatureHeader([]byte(`{"amount":100}`), secret, now.Unix())
	if err := verifyStripeSignature([]byte(`{"amount":10000}`), header, secret, now); err == nil {
		t.Fatal("expected signature mismatch for tampered payload")
	}
}

func TestVerifyStripeSignatureReplayOutsideTolerance(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	secret := "whsec_unit_test"
	now := time.Now()

	stale := now.Add(-10 * time.Minute).Unix()
	header := stripeSignatureHeader(payload, secret, stale)
	if err := verifyStripeSignature(payload, header, secret, now); err == nil {
		t.Fatal("expected stale timestamp rejection")
	}
}

func TestVerifyStripeSignatureMalformedHeaders(t *testing.T) {
	payload := []byte(`{}`)
	now := time.Now()

	for _, header := range []string{
		"",
		"v1=deadbeef",
		"t=notanumber,v1=deadbeef",
		fmt.Sprintf("t=%d", now.Unix()),
	} {
		if err := verifyStripeSignature(payload, header, "whsec", now); err == nil {
			t.Fatalf("expected rejection for header %q", header)
		}
	}
}

func webhookRequest(t *testing.T, path string, payload []byte, signature string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	if signature != "" {
		c.Request.Header.Set("Stripe-Signature", signature)
	}
	return c, w
}

// expectWebhookSettlement queues the full settlement sequence for pi_test:
// load, lock, guarded confirm, ledger credit, badge and balance projections.
func expectWebhookSettlement(mock sqlmock.Sqlmock) {
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
}

func TestStripeWebhookSettlesConfirmedPayment(t *testing.T) {
	provider := &fakeProvider{
		name:   "stripe",
		intent: &payments.Intent{ID: "pi_test", Status: payments.IntentSucceeded},
	}
	mock := setupPurchaseTest(t, provider)
	secret := "whsec_unit_test"
	t.Setenv("STRIPE_WEBHOOK_SECRET", secret)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("stripe", "evt_ok").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	expectWebhookSettlement(mock)
	mock.ExpectExec("INSERT INTO bursar.webhook_events").
		WithArgs("stripe", "evt_ok", "payment_intent.succeeded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload := []byte(`{"id":"evt_ok","type":"payment_intent.succeeded","data":{"object":{"id":"pi_test"}}}`)
	c, w := webhookRequest(t, "/webhooks/stripe", payload, stripeSignatureHeader(payload, secret, time.Now().Unix()))
	StripeWebhook(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStripeWebhookDuplicateDeliverySkipsSettlement(t *testing.T) {
	provider := &fakeProvider{
		name:   "stripe",
		intent: &payments.Intent{ID: "pi_test", Status: payments.IntentSucceeded},
	}
	mock := setupPurchaseTest(t, provider)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("stripe", "evt_dup").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	payload := []byte(`{"id":"evt_dup","type":"payment_intent.succeeded","data":{"object":{"id":"pi_test"}}}`)
	c, w := webhookRequest(t, "/webhooks/stripe", payload, "")
	StripeWebhook(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "duplicate") {
		t.Fatalf("expected duplicate acknowledgement, got %s", w.Body.String())
	}
	if provider.getCalls != 0 {
		t.Fatalf("expected no provider verification for a duplicate delivery, got %d calls", provider.getCalls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStripeWebhookTransientFailureLeavesEventRetryable(t *testing.T) {
	provider := &fakeProvider{
		name:   "stripe",
		intent: &payments.Intent{ID: "pi_test", Status: payments.IntentSucceeded},
	}
	mock := setupPurchaseTest(t, provider)
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	payload := []byte(`{"id":"evt_flaky","type":"payment_intent.succeeded","data":{"object":{"id":"pi_test"}}}`)

	// First delivery: the purchase load fails mid-settlement. The event must
	// not be consumed, so the response is a 5xx and Stripe redelivers.
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("stripe", "evt_flaky").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("pi_test").
		WillReturnError(errors.New("connection reset by peer"))

	c, w := webhookRequest(t, "/webhooks/stripe", payload, "")
	StripeWebhook(c)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on transient settlement failure, got %d: %s", w.Code, w.Body.String())
	}

	// Redelivery: still unseen, settles, and only then is marked processed.
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("stripe", "evt_flaky").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	expectWebhookSettlement(mock)
	mock.ExpectExec("INSERT INTO bursar.webhook_events").
		WithArgs("stripe", "evt_flaky", "payment_intent.succeeded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, w = webhookRequest(t, "/webhooks/stripe", payload, "")
	StripeWebhook(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected redelivery to settle, got %d: %s", w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMollieWebhookTransientFailureReturns500(t *testing.T) {
	provider := &fakeProvider{name: "mollie"}
	mock := setupPurchaseTest(t, provider)

	mock.ExpectQuery("SELECT (.+) FROM bursar.pending_purchases").
		WithArgs("tr_test").
		WillReturnError(errors.New("connection reset by peer"))

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/mollie", strings.NewReader("id=tr_test"))
	c.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	MollieWebhook(c)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on transient settlement failure, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVerifyStripeSignatureMultipleV1(t *testing.T) {
	payload := []byte(`{"id":"evt_rotated"}`)
	secret := "whsec_new"
	now := time.Now()

	// Secret rotation: Stripe sends one v1 per active secret.
	valid := stripeSignatureHeader(payload, secret, now.Unix())
	header := fmt.Sprintf("t=%d,v1=deadbeef,%s", now.Unix(), valid[len(fmt.Sprintf("t=%d,", now.Unix())):])
	if err := verifyStripeSignature(payload, header, secret, now); err != nil {
		t.Fatalf("expected one of multiple signatures to match, got %v", err)
	}
}
