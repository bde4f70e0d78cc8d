package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jordanlinford/ClubandCover-sub000/pkg/config"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/economy"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/kafka"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

// defaultEngagementPoints is the award per engagement event when the platform
// does not specify one.
var defaultEngagementPoints = map[string]int64{
	economy.EventVoteCast:       1,
	economy.EventPitchPublished: 5,
	economy.EventSwapVerified:   10,
	economy.EventClubHosted:     8,
}

// JobManager runs the background work the request path does not cover: the
// promotion expiry sweep, reconciliation of stale purchases, and the
// engagement event consumer.
type JobManager struct {
	db       *sql.DB
	logger   logging.Logger
	consumer *kafka.Consumer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a JobManager. consumer may be nil when Kafka is not
// configured; the sweeps run either way.
func NewJobManager(database *sql.DB, log logging.Logger, consumer *kafka.Consumer) *JobManager {
	return &JobManager{db: database, logger: log, consumer: consumer}
}

// Start launches the background loops.
func (jm *JobManager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	jm.cancel = cancel

	expiryInterval := config.GetEnvDuration("BURSAR_EXPIRY_INTERVAL", 5*time.Minute)
	reconcileInterval := config.GetEnvDuration("BURSAR_RECONCILE_INTERVAL", 15*time.Minute)

	jm.wg.Add(1)
	go jm.runPromotionExpiry(ctx, expiryInterval)

	jm.wg.Add(1)
	go jm.runPurchaseReconciliation(ctx, reconcileInterval)

	if jm.consumer != nil {
		topic := config.GetEnv("ENGAGEMENT_KAFKA_TOPIC", "engagement_events")
		jm.consumer.AddHandler(topic, handleEngagementEvent)

		jm.wg.Add(1)
		go func() {
			defer jm.wg.Done()
			if err := jm.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				jm.logger.WithError(err).Error("Engagement consumer stopped")
			}
		}()
	}

	jm.logger.Info("Started background jobs")
}

// Stop shuts the background loops down and waits for them to drain.
func (jm *JobManager) Stop() {
	if jm.cancel != nil {
		jm.cancel()
	}
	jm.wg.Wait()
	if jm.consumer != nil {
		jm.consumer.Close()
	}
	jm.logger.Info("Stopped background jobs")
}

// runPromotionExpiry marks lapsed promotions as expired so reads that skip
// the lazy per-user expiry still see a consistent catalog.
func (jm *JobManager) runPromotionExpiry(ctx context.Context, interval time.Duration) {
	defer jm.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if metrics != nil {
				metrics.DBConnections.WithLabelValues("bursar").Set(float64(jm.db.Stats().OpenConnections))
			}
			result, err := jm.db.ExecContext(ctx, `
				UPDATE bursar.promotions
				SET status = $1, updated_at = NOW()
				WHERE status = $2 AND ends_at <= NOW()
			`, models.PromotionExpired, models.PromotionActive)
			if err != nil {
				jm.logger.WithError(err).Error("Promotion expiry sweep failed")
				continue
			}
			if expired, err := result.RowsAffected(); err == nil && expired > 0 {
				jm.logger.WithField("count", expired).Info("Expired lapsed promotions")
			}
		}
	}
}

// runPurchaseReconciliation settles purchases stuck in created. A purchase
// strands when the buyer paid but the confirmation call and the webhook both
// failed to land; the provider remains the source of truth, so asking it
// again is always safe.
func (jm *JobManager) runPurchaseReconciliation(ctx context.Context, interval time.Duration) {
	defer jm.wg.Done()

	minAge := config.GetEnvDuration("BURSAR_RECONCILE_AGE", time.Hour)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.reconcileStalePurchases(ctx, minAge)
		}
	}
}

func (jm *JobManager) reconcileStalePurchases(ctx context.Context, minAge time.Duration) {
	rows, err := jm.db.QueryContext(ctx, `
		SELECT payment_intent_id
		FROM bursar.pending_purchases
		WHERE status = $1 AND created_at < NOW() - $2::interval
		ORDER BY created_at ASC
		LIMIT 100
	`, models.PurchaseCreated, fmt.Sprintf("%d seconds", int(minAge.Seconds())))
	if err != nil {
		jm.logger.WithError(err).Error("Failed to query stale purchases")
		return
	}
	defer rows.Close()

	var intentIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			jm.logger.WithError(err).Error("Error scanning stale purchase")
			continue
		}
		intentIDs = append(intentIDs, id)
	}

	for _, intentID := range intentIDs {
		_, _, err := settlePurchaseByIntent(ctx, intentID)
		switch {
		case err == nil:
			jm.logger.WithField("payment_intent_id", intentID).Info("Reconciled stale purchase")
		case errors.Is(err, errAlreadyProcessed), errors.Is(err, errPaymentNotSucceeded):
			// Settled by another path, failed at the provider, or still open.
		default:
			jm.logger.WithError(err).WithField("payment_intent_id", intentID).Warn("Failed to reconcile stale purchase")
		}
	}
}

// handleEngagementEvent awards points for one platform engagement event.
// Delivery is at-least-once; the engagement_events insert is the dedup gate.
// Returning an error leaves the offset uncommitted so the event is retried.
func handleEngagementEvent(ctx context.Context, msg kafka.Message) error {
	var event kafka.EngagementEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// Malformed events can never succeed; drop them instead of wedging
		// the partition.
		logger.WithError(err).WithField("topic", msg.Topic).Warn("Dropping malformed engagement event")
		return nil
	}
	if event.EventID == "" || event.UserID == "" || event.EventType == "" {
		logger.WithField("event_id", event.EventID).Warn("Dropping incomplete engagement event")
		return nil
	}

	points := event.Points
	if points <= 0 {
		points = defaultEngagementPoints[event.EventType]
	}
	if points <= 0 {
		logger.WithField("event_type", event.EventType).Debug("Ignoring engagement event with no point value")
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin engagement transaction: %w", err)
	}
	defer tx.Rollback()

	if err := ensureUserAccount(ctx, tx, event.UserID); err != nil {
		return err
	}
	if err := lockUserAccount(ctx, tx, event.UserID); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO bursar.engagement_events (event_id, user_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, event.EventID, event.UserID, event.EventType)
	if err != nil {
		return fmt.Errorf("failed to record engagement event: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record engagement event: %w", err)
	}
	if inserted == 0 {
		// Redelivery of an event already credited.
		return nil
	}

	var relatedID *string
	if event.EntityID != "" {
		relatedID = &event.EntityID
	}

	entry, err := appendLedgerEntry(ctx, tx, ledgerAppend{
		UserID:          event.UserID,
		Kind:            models.KindPointAward,
		Amount:          points,
		EventType:       event.EventType,
		RelatedEntityID: relatedID,
	})
	if err != nil {
		return err
	}

	awarded, err := maybeAwardBadges(ctx, tx, event.UserID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit engagement award: %w", err)
	}

	logger.WithFields(logging.Fields{
		"user_id":    event.UserID,
		"event_type": event.EventType,
		"points":     points,
	}).Info("Awarded engagement points")

	emitLedgerEvent(event.EventType, entry, map[string]interface{}{
		"engagement_event_id": event.EventID,
	})
	for _, badge := range awarded {
		emitBadgeEvent(event.UserID, badge)
	}

	return nil
}
