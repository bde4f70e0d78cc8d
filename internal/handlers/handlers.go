package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jordanlinford/ClubandCover-sub000/internal/payments"
	bursarapi "github.com/jordanlinford/ClubandCover-sub000/pkg/api/bursar"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/ctxkeys"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/economy"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/kafka"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/middleware"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

var (
	db        *sql.DB
	logger    logging.Logger
	metrics   *BursarMetrics
	producer  *kafka.Producer
	providers map[string]payments.Provider
	scorer    economy.ReputationScorer
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	LedgerAppends *prometheus.CounterVec
	Purchases     *prometheus.CounterVec
	Promotions    *prometheus.CounterVec
	Redemptions   *prometheus.CounterVec
	DBQueries     *prometheus.CounterVec
	DBDuration    *prometheus.HistogramVec
	DBConnections *prometheus.GaugeVec
}

// Init initializes the handlers with database, logger, metrics, the event
// producer, and the configured payment providers.
func Init(database *sql.DB, log logging.Logger, bursarMetrics *BursarMetrics, eventProducer *kafka.Producer, paymentProviders map[string]payments.Provider) {
	db = database
	logger = log
	metrics = bursarMetrics
	producer = eventProducer
	providers = paymentProviders
	scorer = economy.DefaultScorer()
}

// requestUserID returns the authenticated user id from the request context.
func requestUserID(c middleware.Context) string {
	return c.GetString(string(ctxkeys.KeyUserID))
}

// GetBalance returns the caller's projected balance.
func GetBalance(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	balance, err := computeBalance(c.Request.Context(), db, userID)
	if err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to compute balance")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to compute balance"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.GetBalanceResponse{Balance: balance})
}

// GetLedger returns the caller's ledger entries, newest first.
func GetLedger(c middleware.Context) {
	userID := requestUserID(c)
	if userID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "User context required", Code: bursarapi.CodeInvalidRequest})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	rows, err := db.QueryContext(c.Request.Context(), `
		SELECT id, user_id, kind, amount, event_type, related_entity_id, created_at
		FROM bursar.ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch ledger entries")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch ledger entries"})
		return
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Kind, &entry.Amount,
			&entry.EventType, &entry.RelatedEntityID, &entry.CreatedAt); err != nil {
			logger.WithError(err).Error("Error scanning ledger entry")
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		logger.WithError(err).Error("Failed to fetch ledger entries")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to fetch ledger entries"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.GetLedgerResponse{Entries: entries, Count: len(entries)})
}
