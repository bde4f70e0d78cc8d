package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

// ledgerAppend describes one entry to append. Amounts are signed: award,
// purchase, and refund kinds are positive; spend kinds are negative. The kind
// determines which balance namespace (points or credits) the entry affects.
type ledgerAppend struct {
	UserID          string
	Kind            models.LedgerKind
	Amount          int64
	EventType       string
	RelatedEntityID *string
}

func validateAppend(entry ledgerAppend) error {
	if entry.Amount == 0 {
		return fmt.Errorf("ledger entry amount must not be zero")
	}
	switch entry.Kind {
	case models.KindPointAward, models.KindCreditPurchase, models.KindCreditRefund:
		if entry.Amount < 0 {
			return fmt.Errorf("%s entries must carry a positive amount", entry.Kind)
		}
	case models.KindPointSpend, models.KindCreditSpend:
		if entry.Amount > 0 {
			return fmt.Errorf("%s entries must carry a negative amount", entry.Kind)
		}
	default:
		return fmt.Errorf("unknown ledger kind: %s", entry.Kind)
	}
	if entry.EventType == "" {
		return fmt.Errorf("ledger entry event type is required")
	}
	return nil
}

// ensureUserAccount creates the per-user lock anchor row if it does not exist.
func ensureUserAccount(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.user_accounts (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure user account: %w", err)
	}
	return nil
}

// lockUserAccount serializes all balance-affecting work for one user. Every
// transaction that appends to the ledger must take this lock first so the
// check-balance-then-debit sequence is atomic.
func lockUserAccount(ctx context.Context, tx *sql.Tx, userID string) error {
	var locked string
	err := tx.QueryRowContext(ctx, `
		SELECT user_id FROM bursar.user_accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&locked)
	if err != nil {
		return fmt.Errorf("failed to lock user account: %w", err)
	}
	return nil
}

// appendLedgerEntry writes one immutable ledger entry inside tx. The ledger
// is the only place balance changes are recorded; corrections are new
// offsetting entries, never updates.
func appendLedgerEntry(ctx context.Context, tx *sql.Tx, entry ledgerAppend) (models.LedgerEntry, error) {
	if err := validateAppend(entry); err != nil {
		return models.LedgerEntry{}, err
	}

	start := time.Now()
	var created models.LedgerEntry
	err := tx.QueryRowContext(ctx, `
		INSERT INTO bursar.ledger_entries (user_id, kind, amount, event_type, related_entity_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, kind, amount, event_type, related_entity_id, created_at
	`, entry.UserID, entry.Kind, entry.Amount, entry.EventType, entry.RelatedEntityID).Scan(
		&created.ID, &created.UserID, &created.Kind, &created.Amount,
		&created.EventType, &created.RelatedEntityID, &created.CreatedAt)
	if err != nil {
		if metrics != nil {
			metrics.DBQueries.WithLabelValues("ledger_append", "error").Inc()
		}
		return models.LedgerEntry{}, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if metrics != nil {
		metrics.DBQueries.WithLabelValues("ledger_append", "success").Inc()
		metrics.DBDuration.WithLabelValues("ledger_append").Observe(time.Since(start).Seconds())
		metrics.LedgerAppends.WithLabelValues(string(created.Kind), created.EventType).Inc()
	}

	return created, nil
}

// computeBalance folds a user's ledger entries into their current balance.
// It is a pure projection: recomputing from scratch must always agree with
// any incrementally maintained copy.
func computeBalance(ctx context.Context, q querier, userID string) (models.Balance, error) {
	balance := models.Balance{UserID: userID}

	start := time.Now()
	rows, err := q.QueryContext(ctx, `
		SELECT kind, COALESCE(SUM(amount), 0)
		FROM bursar.ledger_entries
		WHERE user_id = $1
		GROUP BY kind
	`, userID)
	if err != nil {
		if metrics != nil {
			metrics.DBQueries.WithLabelValues("balance_fold", "error").Inc()
		}
		return balance, fmt.Errorf("failed to fold ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind models.LedgerKind
		var sum int64
		if err := rows.Scan(&kind, &sum); err != nil {
			return balance, fmt.Errorf("failed to scan ledger fold: %w", err)
		}
		switch kind {
		case models.KindPointAward, models.KindPointSpend:
			balance.Points += sum
		case models.KindCreditPurchase, models.KindCreditSpend, models.KindCreditRefund:
			balance.CreditBalance += sum
		}
	}
	if err := rows.Err(); err != nil {
		return balance, fmt.Errorf("failed to fold ledger: %w", err)
	}
	if metrics != nil {
		metrics.DBQueries.WithLabelValues("balance_fold", "success").Inc()
		metrics.DBDuration.WithLabelValues("balance_fold").Observe(time.Since(start).Seconds())
	}

	counts, err := eventCounts(ctx, q, userID)
	if err != nil {
		return balance, err
	}
	balance.Reputation = scorer.Score(counts)

	return balance, nil
}

// eventCounts returns the number of ledger entries per event type for a user.
// Both the reputation scorer and the badge evaluator run off these counts.
func eventCounts(ctx context.Context, q querier, userID string) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM bursar.ledger_entries
		WHERE user_id = $1
		GROUP BY event_type
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count ledger events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count ledger events: %w", err)
	}

	return counts, nil
}
