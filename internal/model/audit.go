package model

import "time"

// DomainAudit separates audit checksums from every other hash in the system.
const DomainAudit = "dairyledger/audit/v1"

// AuditEvent is one immutable record in the audit trail.
//
// Before and After hold canonical JSON snapshots of the entity, or "" when
// not applicable (e.g. Before for a create).
type AuditEvent struct {
	AuditID    string      `json:"audit_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Action     AuditAction `json:"action"`
	EntityType EntityType  `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Before     string      `json:"before,omitempty"`
	After      string      `json:"after,omitempty"`
	OperatorID string      `json:"operator_id"`
	DeviceID   string      `json:"device_id"`
	SessionID  string      `json:"session_id"`
	Checksum   string      `json:"checksum"`
}

// ComputeChecksum derives the tamper-evidence checksum from the event's
// identity fields. It is an integrity check, not an authenticator.
func (e AuditEvent) ComputeChecksum() (string, error) {
	return Checksum(DomainAudit, map[string]any{
		"audit_id":    e.AuditID,
		"timestamp":   e.Timestamp.UnixMilli(),
		"action":      string(e.Action),
		"entity_type": string(e.EntityType),
		"entity_id":   e.EntityID,
	})
}

// Validate checks that identity fields are present.
func (e AuditEvent) Validate() error {
	var missing []string
	if e.AuditID == "" {
		missing = append(missing, "audit_id")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if !e.Action.Valid() {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return NewValidationError("audit event", missing...)
	}
	return nil
}
