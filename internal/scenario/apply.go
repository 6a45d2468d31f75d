package scenario

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/writer"
)

// Committer is the write side Apply drives. *writer.Writer satisfies it.
type Committer interface {
	Commit(ctx context.Context, ev writer.Event) (writer.CommitResult, error)
}

// BalanceReader reads derived balances. *ledger.Ledger satisfies it.
type BalanceReader interface {
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// StepResult records what happened to one event.
type StepResult struct {
	Index     int
	Type      model.EntityType
	AccountID string

	// Entry is set when the commit succeeded.
	Entry *model.LedgerEntry

	// ErrorCode is set when the commit failed.
	ErrorCode model.ErrorCode
}

// Result is the outcome of applying a scenario.
type Result struct {
	// Pass is true when every step matched its expectation and every
	// expected balance matched the ledger.
	Pass bool

	Steps []StepResult

	// Balances holds the final balance of every account that received an
	// entry or has an expectation.
	Balances map[string]decimal.Decimal

	// Errors lists every mismatch found.
	Errors []string
}

// AddError records a mismatch and marks the result as failed.
func (r *Result) AddError(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Committed returns the number of steps that produced a ledger entry.
func (r *Result) Committed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Entry != nil {
			n++
		}
	}
	return n
}

// Apply commits the scenario's events in order. A step failing with a
// business error (validation, invalid amount) is recorded and the import
// continues. Storage failures abort the import and are returned.
func Apply(ctx context.Context, c Committer, b BalanceReader, s *Scenario) (*Result, error) {
	res := &Result{Pass: true, Balances: make(map[string]decimal.Decimal)}
	touched := make(map[string]bool)

	for i, step := range s.Events {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sr := StepResult{Index: i, Type: model.EntityType(step.Type), AccountID: step.Account}

		ev, err := step.Event()
		if err != nil {
			return res, fmt.Errorf("events[%d]: %w", i, err)
		}
		committed, err := c.Commit(ctx, ev)
		switch {
		case err == nil:
			entry := committed.Entry
			sr.Entry = &entry
			touched[entry.AccountID] = true
			if step.ExpectError != "" {
				res.AddError("events[%d]: expected error %s, commit succeeded as %s", i, step.ExpectError, entry.EntryID)
			}
		case model.IsValidation(err):
			sr.ErrorCode = model.CodeOf(err)
			if step.ExpectError == "" {
				res.AddError("events[%d]: unexpected error: %v", i, err)
			} else if string(sr.ErrorCode) != step.ExpectError {
				res.AddError("events[%d]: expected error %s, got %s", i, step.ExpectError, sr.ErrorCode)
			}
		default:
			return res, fmt.Errorf("events[%d]: %w", i, err)
		}
		res.Steps = append(res.Steps, sr)
	}

	if s.Expect != nil {
		for account := range s.Expect.Balances {
			touched[account] = true
		}
	}
	accounts := make([]string, 0, len(touched))
	for a := range touched {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	for _, a := range accounts {
		bal, err := b.Balance(ctx, a)
		if err != nil {
			return res, fmt.Errorf("balance %s: %w", a, err)
		}
		res.Balances[a] = bal
	}

	if s.Expect != nil {
		for _, a := range accounts {
			raw, ok := s.Expect.Balances[a]
			if !ok {
				continue
			}
			want := model.Round(decimal.RequireFromString(raw))
			if got := res.Balances[a]; !got.Equal(want) {
				res.AddError("balance %s: expected %s, got %s", a, model.FormatAmount(want), model.FormatAmount(got))
			}
		}
	}
	return res, nil
}
