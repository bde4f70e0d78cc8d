package handlers

import (
	"time"

	"github.com/google/uuid"

	"github.com/jordanlinford/ClubandCover-sub000/pkg/kafka"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/logging"
	"github.com/jordanlinford/ClubandCover-sub000/pkg/models"
)

// emitLedgerEvent publishes a ledger delta to the economy topic. Delivery is
// best-effort: the ledger write has already committed, and downstream
// consumers (notifications, badge caches) tolerate gaps.
func emitLedgerEvent(eventType string, entry models.LedgerEntry, data map[string]interface{}) {
	if producer == nil {
		return
	}

	event := &kafka.EconomyEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		UserID:        entry.UserID,
		Kind:          string(entry.Kind),
		Amount:        entry.Amount,
		Data:          data,
		Timestamp:     time.Now(),
		SchemaVersion: "1.0",
	}
	if entry.RelatedEntityID != nil {
		event.RelatedEntityID = *entry.RelatedEntityID
	}

	if err := producer.PublishEconomyEvent(event); err != nil {
		logger.WithError(err).WithFields(logging.Fields{
			"event_type": eventType,
			"user_id":    entry.UserID,
		}).Warn("Failed to publish economy event")
	}
}
