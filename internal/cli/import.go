package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dairyledger/internal/engine"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/scenario"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Sync bool
}

// ImportOutput is the result of the import command.
type ImportOutput struct {
	Name      string              `json:"name"`
	Pass      bool                `json:"pass"`
	Committed int                 `json:"committed"`
	Rejected  int                 `json:"rejected"`
	Balances  map[string]string   `json:"balances"`
	Errors    []string            `json:"errors"`
	Sync      *engine.CycleReport `json:"sync,omitempty"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Commit a batch of offline events from YAML",
		Long: `Commit events recorded elsewhere (another handset, paper slips) in file
order, then check the file's expected balances against the ledger.

Events expected to fail (expect_error) are checked, not committed. Exits
with code 1 if any expectation is unmet.

Example:
  dairyledger import ./slips/2026-10-18-morning.yaml --sync`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "attempt to sync immediately after importing")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	f := opts.formatter(cmd)

	sc, err := scenario.Load(path)
	if err != nil {
		_ = f.Error(ErrCodeImport, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load import file", err)
	}
	f.VerboseLog("Loaded %s: %d event(s)", sc.Name, len(sc.Events))

	a, err := opts.openApp(ctx, cmd, f)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Import(ctx, sc)
	if err != nil {
		return f.Fail("import failed", err)
	}

	out := ImportOutput{
		Name:      sc.Name,
		Pass:      res.Pass,
		Committed: res.Committed(),
		Rejected:  len(res.Steps) - res.Committed(),
		Balances:  make(map[string]string, len(res.Balances)),
		Errors:    res.Errors,
	}
	for acct, bal := range res.Balances {
		out.Balances[acct] = model.FormatAmount(bal)
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}

	if opts.Sync {
		rep, err := a.SyncNow(ctx)
		if err != nil {
			return f.Fail("sync failed", err)
		}
		out.Sync = &rep
	}

	if err := f.Render(out, func(w io.Writer) {
		mark := "✓"
		if !out.Pass {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s Imported %s: %d committed, %d rejected\n", mark, out.Name, out.Committed, out.Rejected)
		for _, e := range out.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
		if out.Sync != nil {
			writeCycleText(w, *out.Sync)
		}
	}); err != nil {
		return err
	}

	if !out.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("import %s: %d expectation(s) unmet", out.Name, len(out.Errors)))
	}
	return nil
}
