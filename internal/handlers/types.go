package handlers

import (
	"context"
	"database/sql"
	"errors"
)

// querier is satisfied by *sql.DB and *sql.Tx so balance projection can run
// inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Sentinel errors shared between the HTTP handlers, webhook processing, and
// the reconciliation sweep.
var (
	errPurchaseNotFound    = errors.New("pending purchase not found")
	errAlreadyProcessed    = errors.New("purchase already processed")
	errPaymentNotSucceeded = errors.New("payment has not succeeded")
)
