package model

import "fmt"

// Precision is the number of decimal places kept for every amount and balance.
const Precision = 2

// Kind is the direction of a ledger entry.
type Kind string

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindCredit || k == KindDebit
}

// Opposite returns the kind that cancels k.
func (k Kind) Opposite() Kind {
	if k == KindCredit {
		return KindDebit
	}
	return KindCredit
}

// ParseKind converts user input to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind %q (want credit|debit)", s)
	}
	return k, nil
}

// SyncState is the delivery state of a ledger entry.
type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateSynced  SyncState = "synced"
)

// QueueStatus is the lifecycle state of a sync queue item.
//
//	pending -> in_flight -> synced
//	                     -> pending (retry)
//	                     -> failed  (retry ceiling reached)
type QueueStatus string

const (
	StatusPending  QueueStatus = "pending"
	StatusInFlight QueueStatus = "in_flight"
	StatusSynced   QueueStatus = "synced"
	StatusFailed   QueueStatus = "failed"
)

// Valid reports whether s is a known status.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s QueueStatus) Terminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// Priority orders queue items within a drain. High goes first.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal
}

// Rank returns a sortable rank; lower ranks drain first.
func (p Priority) Rank() int {
	if p == PriorityHigh {
		return 0
	}
	return 1
}

// ParsePriority converts user input to a Priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q (want high|normal)", s)
	}
	return p, nil
}

// EntityType names the kind of record carried by a queue item or referenced
// by an audit event. The remote store routes submissions by entity type.
type EntityType string

const (
	EntityFarmer      EntityType = "farmer"
	EntityCollection  EntityType = "collection"
	EntitySale        EntityType = "sale"
	EntityPayment     EntityType = "payment"
	EntityLedgerEntry EntityType = "ledger_entry"
)

// EntityTypes lists every known entity type in a stable order.
var EntityTypes = []EntityType{
	EntityFarmer,
	EntityCollection,
	EntitySale,
	EntityPayment,
	EntityLedgerEntry,
}

// Valid reports whether e is a known entity type.
func (e EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if e == known {
			return true
		}
	}
	return false
}

// ParseEntityType converts user input to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(s)
	if !e.Valid() {
		return "", fmt.Errorf("unknown entity type %q", s)
	}
	return e, nil
}

// AuditAction names a mutating action recorded in the audit trail.
type AuditAction string

const (
	ActionCreate     AuditAction = "create"
	ActionUpdate     AuditAction = "update"
	ActionDelete     AuditAction = "delete"
	ActionReverse    AuditAction = "reverse"
	ActionSync       AuditAction = "sync"
	ActionSyncFailed AuditAction = "sync_failed"
	ActionRetry      AuditAction = "retry"
	ActionVerify     AuditAction = "verify"
	ActionImport     AuditAction = "import"
)

// Valid reports whether a is a known action.
func (a AuditAction) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionReverse,
		ActionSync, ActionSyncFailed, ActionRetry, ActionVerify, ActionImport:
		return true
	}
	return false
}

// PaymentCash is the default payment mode. Cash entries are settled on the spot.
const PaymentCash = "cash"
