package kafka

import (
	"time"
)

// EconomyEvent is published after every committed ledger delta. Downstream
// collaborators (notification dispatch, badge-progress caches) subscribe to
// these; they are informational and not required for ledger correctness.
type EconomyEvent struct {
	EventID         string                 `json:"event_id"`
	EventType       string                 `json:"event_type"`
	UserID          string                 `json:"user_id"`
	Kind            string                 `json:"kind,omitempty"`
	Amount          int64                  `json:"amount,omitempty"`
	RelatedEntityID string                 `json:"related_entity_id,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	SchemaVersion   string                 `json:"schema_version"`
}

// EngagementEvent is consumed from the platform's engagement topic. Each one
// awards points for a user action (vote cast, pitch published, swap verified).
// Delivery is at-least-once; EventID is the dedup key.
type EngagementEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	UserID    string    `json:"user_id"`
	Points    int64     `json:"points"`
	EntityID  string    `json:"entity_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
