package model

import "time"

// SyncQueueItem is one outbound record awaiting delivery to the remote store.
//
// ID is the idempotency key: it equals the client id of the originating record
// and the remote store must treat a repeated ID as the same logical write.
//
// OrderingKey groups items that must reach the remote in creation order
// (the account id for ledger-derived items). Empty means unordered.
type SyncQueueItem struct {
	ID            string      `json:"id"`
	EntityType    EntityType  `json:"entity_type"`
	Payload       string      `json:"payload"`
	Status        QueueStatus `json:"status"`
	Priority      Priority    `json:"priority"`
	OrderingKey   string      `json:"ordering_key,omitempty"`
	RetryCount    int         `json:"retry_count"`
	CreatedAt     time.Time   `json:"created_at"`
	LastAttemptAt time.Time   `json:"last_attempt_at,omitempty"`
	SyncedAt      time.Time   `json:"synced_at,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	RemoteID      string      `json:"remote_id,omitempty"`
}

// Validate checks the required fields of a queue item.
func (q SyncQueueItem) Validate() error {
	var missing []string
	if q.ID == "" {
		missing = append(missing, "id")
	}
	if !q.EntityType.Valid() {
		missing = append(missing, "entity_type")
	}
	if q.Payload == "" {
		missing = append(missing, "payload")
	}
	if !q.Status.Valid() {
		missing = append(missing, "status")
	}
	if !q.Priority.Valid() {
		missing = append(missing, "priority")
	}
	if q.CreatedAt.IsZero() {
		missing = append(missing, "created_at")
	}
	if len(missing) > 0 {
		return NewValidationError("sync queue item", missing...)
	}
	return nil
}

// QueueBefore reports whether a precedes b within one ordering key.
func QueueBefore(a, b SyncQueueItem) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// SyncAttempt is one row of the delivery log kept for each send.
type SyncAttempt struct {
	ItemID     string      `json:"item_id"`
	Attempt    int         `json:"attempt"`
	At         time.Time   `json:"at"`
	Outcome    string      `json:"outcome"`
	Error      string      `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Status     QueueStatus `json:"status"`
}

// Attempt outcomes recorded in the delivery log.
const (
	OutcomeSynced   = "synced"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
)
