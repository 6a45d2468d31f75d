package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dairyledger/internal/engine"
	"github.com/roach88/dairyledger/internal/ledger"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/scenario"
	"github.com/roach88/dairyledger/internal/writer"
)

// CommitOptions holds flags for the commit command.
type CommitOptions struct {
	*RootOptions
	Step scenario.Step
	Sync bool
}

// CommitOutput is the result of commit and reverse.
type CommitOutput struct {
	TransactionID string              `json:"transaction_id"`
	EntryID       string              `json:"entry_id"`
	AccountID     string              `json:"account_id"`
	Kind          model.Kind          `json:"kind"`
	Amount        string              `json:"amount"`
	BalanceAfter  string              `json:"balance_after"`
	QueueItemID   string              `json:"queue_item_id"`
	AuditID       string              `json:"audit_id,omitempty"`
	Sync          *engine.CycleReport `json:"sync,omitempty"`
}

func newCommitOutput(res writer.CommitResult) CommitOutput {
	return CommitOutput{
		TransactionID: res.TransactionID,
		EntryID:       res.Entry.EntryID,
		AccountID:     res.Entry.AccountID,
		Kind:          res.Entry.Kind,
		Amount:        model.FormatAmount(res.Entry.Amount()),
		BalanceAfter:  model.FormatAmount(res.Entry.BalanceAfter),
		QueueItemID:   res.QueueItemID,
		AuditID:       res.AuditID,
	}
}

func (o CommitOutput) writeText(w io.Writer, verb string) {
	fmt.Fprintf(w, "✓ %s %s for %s: %s %s, balance %s\n",
		verb, o.EntryID, o.AccountID, o.Amount, o.Kind, o.BalanceAfter)
	if o.Sync != nil {
		writeCycleText(w, *o.Sync)
	}
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CommitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record a collection, sale or payment",
		Long: `Record one business event in the local ledger and queue it for sync.

Collections credit the farmer's account; sales and payments debit it. The
entry is durable locally before the command returns, whether or not the
remote store is reachable.

Examples:
  dairyledger commit --type collection --account farmer_1 --amount 120.00 --quantity 12.5 --fat 4.2 --shift morning
  dairyledger commit --type sale --account farmer_1 --amount 45.50 --product feed --priority high
  dairyledger commit --type payment --account farmer_1 --amount 50 --payment-mode bank --sync`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommit(opts, cmd)
		},
	}

	s := &opts.Step
	cmd.Flags().StringVar(&s.Type, "type", "", "event type: collection|sale|payment (required)")
	cmd.Flags().StringVar(&s.Account, "account", "", "account id (required)")
	cmd.Flags().StringVar(&s.Amount, "amount", "", "amount as a decimal (required)")
	cmd.Flags().StringVar(&s.Kind, "kind", "", "override ledger direction: credit|debit")
	cmd.Flags().StringVar(&s.Quantity, "quantity", "", "litres collected")
	cmd.Flags().StringVar(&s.Fat, "fat", "", "fat percentage")
	cmd.Flags().StringVar(&s.SNF, "snf", "", "solids-not-fat percentage")
	cmd.Flags().StringVar(&s.Shift, "shift", "", "collection shift")
	cmd.Flags().StringVar(&s.Product, "product", "", "product sold")
	cmd.Flags().StringVar(&s.PaymentMode, "payment-mode", "", "cash|bank|upi|credit")
	cmd.Flags().StringVar(&s.Reference, "reference", "", "external reference")
	cmd.Flags().StringVar(&s.Notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&s.Operator, "operator", "", "operator id (defaults to device.operator_id)")
	cmd.Flags().StringVar(&s.Priority, "priority", "", "sync priority: high|normal|low")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "attempt to sync immediately after committing")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runCommit(opts *CommitOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	ev, err := opts.Step.Event()
	if err != nil {
		_ = f.Error(ErrCodeValidation, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid event", err)
	}

	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	if ev.OperatorID == "" {
		ev.OperatorID = a.Config.Device.OperatorID
	}
	res, err := a.Writer.Commit(ctx, ev)
	if err != nil {
		return f.Fail("commit failed", err)
	}
	out := newCommitOutput(res)

	if opts.Sync {
		rep, err := a.SyncNow(ctx)
		if err != nil {
			return f.Fail("sync failed", err)
		}
		out.Sync = &rep
	}
	return f.Render(out, func(w io.Writer) { out.writeText(w, "Committed") })
}

// ReverseOptions holds flags for the reverse command.
type ReverseOptions struct {
	*RootOptions
	Reason   string
	Operator string
}

// NewReverseCommand creates the reverse command.
func NewReverseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReverseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reverse <entry-id>",
		Short: "Cancel an entry with an opposite entry",
		Long: `Append an entry of the opposite direction and the same amount, cancelling
the original. The original entry is never modified.

Example:
  dairyledger reverse led_0192 --reason "duplicate slip"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReverse(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the entry is reversed (required)")
	cmd.Flags().StringVar(&opts.Operator, "operator", "", "operator id (defaults to device.operator_id)")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func runReverse(opts *ReverseOptions, entryID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	operator := opts.Operator
	if operator == "" {
		operator = a.Config.Device.OperatorID
	}
	res, err := a.Writer.Reverse(ctx, entryID, opts.Reason, operator)
	if err != nil {
		return f.Fail("reverse failed", err)
	}
	out := newCommitOutput(res)
	return f.Render(out, func(w io.Writer) { out.writeText(w, "Reversed "+entryID+" with") })
}

// BalanceOutput is the result of the balance command.
type BalanceOutput struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show an account's derived balance",
		Long: `Show the balance of an account: the running balance after its latest
ledger entry. Accounts with no entries have a balance of 0.00.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			f := rootOpts.formatter(cmd)
			a, err := rootOpts.openApp(ctx, cmd, f)
			if err != nil {
				return err
			}
			defer a.Close()

			bal, err := a.Ledger.Balance(ctx, args[0])
			if err != nil {
				return f.Fail("balance failed", err)
			}
			out := BalanceOutput{AccountID: args[0], Balance: model.FormatAmount(bal)}
			return f.Render(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s: %s\n", out.AccountID, out.Balance)
			})
		},
	}
}

// EntriesOptions holds flags for the entries command.
type EntriesOptions struct {
	*RootOptions
	Limit int
}

// NewEntriesCommand creates the entries command.
func NewEntriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntriesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "entries <account-id>",
		Short:         "Show an account's statement, newest first",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntries(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum rows (0 for all)")

	return cmd
}

func runEntries(opts *EntriesOptions, accountID string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.Ledger.Recent(ctx, accountID, opts.Limit)
	if err != nil {
		return f.Fail("entries failed", err)
	}
	if rows == nil {
		rows = []ledger.RecentRow{}
	}
	return f.Render(rows, func(w io.Writer) {
		if len(rows) == 0 {
			fmt.Fprintf(w, "No entries for %s\n", accountID)
			return
		}
		fmt.Fprintf(w, "Statement for %s\n", accountID)
		for _, r := range rows {
			settled := "outstanding"
			if r.Settled {
				settled = "settled"
			}
			fmt.Fprintf(w, "  %s  %s  %-6s %10s  bal %10s  %s (%s)\n",
				r.Date.Local().Format(time.DateTime), r.EntryID, r.Kind,
				model.FormatAmount(r.Amount), model.FormatAmount(r.Balance), r.PaymentMode, settled)
		}
	})
}

// SummaryOptions holds flags for the summary command.
type SummaryOptions struct {
	*RootOptions
	Day string
}

// NewSummaryCommand creates the summary command.
func NewSummaryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SummaryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "summary",
		Short:         "Show one day's totals",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSummary(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Day, "day", "", "day as YYYY-MM-DD in local time (defaults to today)")

	return cmd
}

func runSummary(opts *SummaryOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	day := a.Clock.Now().Local()
	if opts.Day != "" {
		day, err = time.ParseInLocation(time.DateOnly, opts.Day, time.Local)
		if err != nil {
			_ = f.Error(ErrCodeValidation, fmt.Sprintf("invalid --day %q: want YYYY-MM-DD", opts.Day), nil)
			return WrapExitError(ExitCommandError, "invalid day", err)
		}
	}

	sum, err := a.Writer.TodaySummary(ctx, day)
	if err != nil {
		return f.Fail("summary failed", err)
	}
	return f.Render(sum, func(w io.Writer) {
		fmt.Fprintf(w, "Summary for %s\n", sum.Day)
		fmt.Fprintf(w, "  Entries:  %d across %d account(s)\n", sum.Entries, sum.Accounts)
		fmt.Fprintf(w, "  Credits:  %s\n", model.FormatAmount(sum.Credits))
		fmt.Fprintf(w, "  Debits:   %s\n", model.FormatAmount(sum.Debits))
		fmt.Fprintf(w, "  Net:      %s\n", model.FormatAmount(sum.Net))
		modes := make([]string, 0, len(sum.ByPaymentMode))
		for mode := range sum.ByPaymentMode {
			modes = append(modes, mode)
		}
		slices.Sort(modes)
		for _, mode := range modes {
			fmt.Fprintf(w, "  %-8s  %s\n", mode+":", model.FormatAmount(sum.ByPaymentMode[mode]))
		}
	})
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute balances and audit checksums",
		Long: `Recompute every account's running balance from its entries and re-check
every audit checksum. Mismatches are reported, never repaired.

Exits with code 1 if anything fails to verify.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.Verify(ctx)
	if err != nil {
		return f.Fail("verify failed", err)
	}
	integrity := out.Audit

	if err := f.Render(out, func(w io.Writer) {
		for _, v := range out.Accounts {
			mark := "✓"
			if !v.Valid {
				mark = "✗"
			}
			fmt.Fprintf(w, "%s %s: %d entries, balance %s\n", mark, v.AccountID, v.Entries, model.FormatAmount(v.Recomputed))
			for _, m := range v.Mismatches {
				fmt.Fprintf(w, "    %s stores %s, expected %s\n", m.EntryID, model.FormatAmount(m.Stored), model.FormatAmount(m.Expected))
			}
		}
		if integrity.Valid {
			fmt.Fprintf(w, "✓ audit: %d event(s)\n", integrity.Total)
		} else {
			fmt.Fprintf(w, "✗ audit: %d of %d event(s) fail their checksum\n", len(integrity.InvalidIDs), integrity.Total)
		}
	}); err != nil {
		return err
	}

	if out.Valid {
		return nil
	}
	return WrapExitError(ExitFailure, "verification failed", out.Err())
}
