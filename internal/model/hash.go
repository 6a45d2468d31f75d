package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Checksum hashes the canonical JSON form of v under domain.
func Checksum(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

// EntryPayload is the canonical map form of a ledger entry, used both as the
// sync payload and as the audit "after" snapshot. SyncState is excluded: it is
// delivery metadata, not part of the financial record.
func EntryPayload(e LedgerEntry) map[string]any {
	return map[string]any{
		"entry_id":       e.EntryID,
		"account_id":     e.AccountID,
		"transaction_id": e.TransactionID,
		"kind":           string(e.Kind),
		"credit_amount":  e.Credit,
		"debit_amount":   e.Debit,
		"balance_after":  e.BalanceAfter,
		"reference":      e.Reference,
		"payment_mode":   e.PaymentMode,
		"notes":          e.Notes,
		"created_at":     e.CreatedAt,
		"created_by":     e.CreatedBy,
		"device_id":      e.DeviceID,
	}
}
