package scenario

import (
	"github.com/roach88/dairyledger/internal/model"
)

// Snapshot renders a result as canonical JSON. Entry ids and amounts are
// included; timestamps are not, so snapshots are stable across runs with a
// deterministic id generator.
func Snapshot(name string, r *Result) ([]byte, error) {
	steps := make([]any, len(r.Steps))
	for i, s := range r.Steps {
		m := map[string]any{
			"index":      s.Index,
			"type":       string(s.Type),
			"account_id": s.AccountID,
		}
		if s.Entry != nil {
			m["entry_id"] = s.Entry.EntryID
			m["kind"] = string(s.Entry.Kind)
			m["amount"] = s.Entry.Amount()
			m["balance_after"] = s.Entry.BalanceAfter
		}
		if s.ErrorCode != "" {
			m["error"] = string(s.ErrorCode)
		}
		steps[i] = m
	}

	balances := make(map[string]any, len(r.Balances))
	for a, b := range r.Balances {
		balances[a] = b
	}

	errs := make([]string, len(r.Errors))
	copy(errs, r.Errors)

	return model.MarshalCanonical(map[string]any{
		"name":     name,
		"pass":     r.Pass,
		"steps":    steps,
		"balances": balances,
		"errors":   errs,
	})
}
