package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/app"
	"github.com/roach88/dairyledger/internal/engine"
	"github.com/roach88/dairyledger/internal/ids"
	"github.com/roach88/dairyledger/internal/ledger"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/remote"
	"github.com/roach88/dairyledger/internal/store"
	"github.com/roach88/dairyledger/internal/testutil"
	"github.com/roach88/dairyledger/internal/writer"
)

var epoch = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// device runs CLI commands against one database with in-memory
// collaborators shared across invocations.
type device struct {
	t       *testing.T
	dir     string
	db      string
	mem     *remote.Memory
	clock   *testutil.FakeClock
	appOpts app.Options
}

func newDevice(t *testing.T) *device {
	t.Helper()
	dir := t.TempDir()
	d := &device{
		t:     t,
		dir:   dir,
		db:    filepath.Join(dir, "dairy.db"),
		mem:   remote.NewMemory(),
		clock: testutil.NewFakeClock(epoch),
	}
	d.appOpts = app.Options{
		Remote: d.mem,
		Clock:  d.clock,
		IDs:    ids.NewFixedGenerator(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return d
}

func (d *device) command(args ...string) (*bytes.Buffer, func(ctx context.Context) error) {
	opts := &RootOptions{AppOptions: d.appOpts}
	cmd := NewRootCommandWithOptions(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--db", d.db, "--env-file", filepath.Join(d.dir, "none.env"), "--format", "json"}, args...))
	return out, cmd.ExecuteContext
}

// run executes one command and returns its raw JSON response.
func (d *device) run(args ...string) (CLIResponse, json.RawMessage, error) {
	d.t.Helper()
	out, exec := d.command(args...)
	err := exec(context.Background())

	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(d.t, json.Unmarshal(out.Bytes(), &resp), "output: %s", out.String())
	return CLIResponse{Status: resp.Status, Error: resp.Error}, resp.Data, err
}

// ok executes one command that must succeed and decodes its data into v.
func (d *device) ok(v any, args ...string) {
	d.t.Helper()
	resp, data, err := d.run(args...)
	require.NoError(d.t, err)
	require.Equal(d.t, "ok", resp.Status)
	if v != nil {
		require.NoError(d.t, json.Unmarshal(data, v))
	}
}

func (d *device) writeFile(name, content string) string {
	d.t.Helper()
	path := filepath.Join(d.dir, name)
	require.NoError(d.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCommitBalanceEntries(t *testing.T) {
	d := newDevice(t)

	var c CommitOutput
	d.ok(&c, "commit", "--type", "collection", "--account", "farmer_1", "--amount", "120.00",
		"--quantity", "12.5", "--fat", "4.2", "--shift", "morning")
	assert.Equal(t, "led_000001", c.EntryID)
	assert.Equal(t, model.KindCredit, c.Kind)
	assert.Equal(t, "120.00", c.BalanceAfter)
	assert.Equal(t, "led_000001", c.QueueItemID)
	assert.NotEmpty(t, c.AuditID)

	d.ok(&c, "commit", "--type", "sale", "--account", "farmer_1", "--amount", "45.50", "--product", "feed")
	assert.Equal(t, "led_000002", c.EntryID)
	assert.Equal(t, "45.50", c.Amount)
	assert.Equal(t, "74.50", c.BalanceAfter)

	var bal BalanceOutput
	d.ok(&bal, "balance", "farmer_1")
	assert.Equal(t, BalanceOutput{AccountID: "farmer_1", Balance: "74.50"}, bal)

	d.ok(&bal, "balance", "farmer_unknown")
	assert.Equal(t, "0.00", bal.Balance)

	var rows []ledger.RecentRow
	d.ok(&rows, "entries", "farmer_1")
	require.Len(t, rows, 2)
	assert.Equal(t, "led_000002", rows[0].EntryID)
	assert.Equal(t, "led_000001", rows[1].EntryID)

	d.ok(&rows, "entries", "farmer_1", "--limit", "1")
	assert.Len(t, rows, 1)
}

func TestCommit_UsesConfiguredOperator(t *testing.T) {
	d := newDevice(t)
	cfg := d.writeFile("dairy.yaml", "device:\n  operator_id: op_7\n")

	var c CommitOutput
	d.ok(&c, "--config", cfg, "commit", "--type", "sale", "--account", "farmer_1", "--amount", "10")

	var events []model.AuditEvent
	d.ok(&events, "trail", c.EntryID)
	require.Len(t, events, 1)
	assert.Equal(t, "op_7", events[0].OperatorID)
}

func TestCommit_ValidationError(t *testing.T) {
	d := newDevice(t)

	resp, _, err := d.run("commit", "--type", "collection", "--account", "farmer_1", "--amount", "50")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, map[string]any{"fields": []any{"quantity"}}, resp.Error.Details)

	var bal BalanceOutput
	d.ok(&bal, "balance", "farmer_1")
	assert.Equal(t, "0.00", bal.Balance)
}

func TestCommit_BadDecimal(t *testing.T) {
	d := newDevice(t)

	resp, _, err := d.run("commit", "--type", "sale", "--account", "farmer_1", "--amount", "ten")
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, `amount: "ten" is not a decimal`)
}

func TestCommit_Sync(t *testing.T) {
	d := newDevice(t)

	var c CommitOutput
	d.ok(&c, "commit", "--type", "sale", "--account", "farmer_1", "--amount", "45.50", "--sync")
	require.NotNil(t, c.Sync)
	assert.Equal(t, 1, c.Sync.Synced)
	assert.Equal(t, []string{"led_000001"}, d.mem.SuccessfulKeys())
}

func TestReverse(t *testing.T) {
	d := newDevice(t)
	d.ok(nil, "commit", "--type", "sale", "--account", "farmer_1", "--amount", "45.50")

	var c CommitOutput
	d.ok(&c, "reverse", "led_000001", "--reason", "duplicate slip")
	assert.Equal(t, model.KindCredit, c.Kind)
	assert.Equal(t, "0.00", c.BalanceAfter)

	resp, _, err := d.run("reverse", "led_000001", "--reason", "again")
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)

	resp, _, err = d.run("reverse", "led_999999", "--reason", "missing")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestSummary(t *testing.T) {
	d := newDevice(t)
	d.ok(nil, "commit", "--type", "collection", "--account", "farmer_1", "--amount", "120", "--quantity", "12")
	d.ok(nil, "commit", "--type", "payment", "--account", "farmer_1", "--amount", "30", "--payment-mode", "bank")

	var sum writer.DaySummary
	d.ok(&sum, "summary", "--day", epoch.Local().Format(time.DateOnly))
	assert.Equal(t, 2, sum.Entries)
	assert.True(t, sum.Credits.Equal(decimal.RequireFromString("120")))
	assert.True(t, sum.Debits.Equal(decimal.RequireFromString("30")))
	assert.True(t, sum.Net.Equal(decimal.RequireFromString("90")))

	d.ok(&sum, "summary", "--day", "2026-10-17")
	assert.Equal(t, 0, sum.Entries)

	resp, _, err := d.run("summary", "--day", "18/10/2026")
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
}

func TestVerify(t *testing.T) {
	d := newDevice(t)
	d.ok(nil, "commit", "--type", "collection", "--account", "farmer_1", "--amount", "120", "--quantity", "12")
	d.ok(nil, "commit", "--type", "sale", "--account", "farmer_1", "--amount", "45.50")

	var v app.Verification
	d.ok(&v, "verify")
	assert.True(t, v.Valid)
	require.Len(t, v.Accounts, 1)
	assert.Equal(t, 2, v.Accounts[0].Entries)
	assert.Equal(t, 2, v.Audit.Total)

	s, err := store.Open(d.db)
	require.NoError(t, err)
	_, err = s.DB().Exec("UPDATE ledger_entries SET balance_after = '99.00' WHERE entry_id = 'led_000002'")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	resp, data, err := d.run("verify")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(data, &v))
	assert.False(t, v.Valid)
	require.Len(t, v.Accounts[0].Mismatches, 1)
	assert.Equal(t, "led_000002", v.Accounts[0].Mismatches[0].EntryID)
}

func TestTrail(t *testing.T) {
	d := newDevice(t)
	d.ok(nil, "commit", "--type", "sale", "--account", "farmer_1", "--amount", "10")
	d.ok(nil, "commit", "--type", "sale", "--account", "farmer_2", "--amount", "20")

	var events []model.AuditEvent
	d.ok(&events, "trail", "led_000002")
	require.Len(t, events, 1)
	assert.Equal(t, model.ActionCreate, events[0].Action)
	assert.Equal(t, "led_000002", events[0].EntityID)

	d.ok(&events, "trail")
	assert.Len(t, events, 2)

	d.ok(&events, "trail", "led_404")
	assert.Empty(t, events)
}

func TestStatusDrainFailedRetry(t *testing.T) {
	d := newDevice(t)
	cfg := d.writeFile("dairy.yaml", "sync:\n  max_retries: 1\n")

	d.mem.SetDown(true)
	d.ok(nil, "--config", cfg, "commit", "--type", "sale", "--account", "farmer_1", "--amount", "10")

	var st StatusOutput
	d.ok(&st, "--config", cfg, "status")
	assert.Equal(t, 1, st.Queue.PendingCount)
	assert.False(t, st.Queue.Online)
	assert.NotEmpty(t, st.Liveness.LastError)

	var rep engine.CycleReport
	d.ok(&rep, "--config", cfg, "drain")
	assert.Equal(t, "offline", rep.Skipped)

	d.mem.SetDown(false)
	d.mem.FailAll(model.NewRejectionError("remote.memory.submit", "schema mismatch"))
	d.ok(&rep, "--config", cfg, "drain")
	assert.Equal(t, 1, rep.Failed)

	var failed []FailedItem
	d.ok(&failed, "--config", cfg, "failed")
	require.Len(t, failed, 1)
	assert.Equal(t, "led_000001", failed[0].ID)
	assert.Equal(t, 1, failed[0].Attempts)
	assert.Contains(t, failed[0].LastError, "schema mismatch")

	resp, _, err := d.run("--config", cfg, "retry")
	require.Error(t, err)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)

	var requeued map[string][]string
	d.ok(&requeued, "--config", cfg, "retry", "--all")
	assert.Equal(t, []string{"led_000001"}, requeued["requeued"])

	d.mem.FailAll(nil)
	d.ok(&rep, "--config", cfg, "drain")
	assert.Equal(t, 1, rep.Synced)

	d.ok(&st, "--config", cfg, "status")
	assert.Equal(t, 0, st.Queue.PendingCount)
	assert.Equal(t, 1, st.Queue.SyncedCount)
	assert.True(t, st.Queue.Online)

	resp, _, err = d.run("--config", cfg, "retry", "led_000001")
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestImport(t *testing.T) {
	d := newDevice(t)
	path := d.writeFile("slips.yaml", `
name: evening_slips
events:
  - type: collection
    account: farmer_1
    amount: "120.00"
    quantity: "12.5"
  - type: sale
    account: farmer_1
    amount: "45.50"
  - type: payment
    account: farmer_1
    amount: "0"
    expect_error: INVALID_AMOUNT
expect:
  balances:
    farmer_1: "74.50"
`)

	var out ImportOutput
	d.ok(&out, "import", path, "--sync")
	assert.True(t, out.Pass)
	assert.Equal(t, 2, out.Committed)
	assert.Equal(t, 1, out.Rejected)
	assert.Equal(t, map[string]string{"farmer_1": "74.50"}, out.Balances)
	require.NotNil(t, out.Sync)
	assert.Equal(t, 2, out.Sync.Synced)
}

func TestImport_UnmetExpectation(t *testing.T) {
	d := newDevice(t)
	path := d.writeFile("slips.yaml", `
name: wrong_total
events:
  - type: sale
    account: farmer_1
    amount: "10"
expect:
  balances:
    farmer_1: "-5"
`)

	resp, data, err := d.run("import", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "ok", resp.Status)

	var out ImportOutput
	require.NoError(t, json.Unmarshal(data, &out))
	assert.False(t, out.Pass)
	assert.Equal(t, []string{"balance farmer_1: expected -5.00, got -10.00"}, out.Errors)
}

func TestImport_BadFile(t *testing.T) {
	d := newDevice(t)
	path := d.writeFile("slips.yaml", "name: x\nevents:\n  - type: sale\n    acount: farmer_1\n")

	resp, _, err := d.run("import", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeImport, resp.Error.Code)
}

func TestConfigError(t *testing.T) {
	d := newDevice(t)
	cfg := d.writeFile("dairy.yaml", "sync:\n  batch_size: 0\n")

	resp, _, err := d.run("--config", cfg, "balance", "farmer_1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestRun_SyncsAndStops(t *testing.T) {
	d := newDevice(t)
	d.ok(nil, "commit", "--type", "sale", "--account", "farmer_1", "--amount", "10")

	_, exec := d.command("run")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exec(ctx) }()

	require.Eventually(t, func() bool { return len(d.mem.SuccessfulKeys()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestStubRemote(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	dir := t.TempDir()
	opts := &StubRemoteOptions{
		RootOptions: &RootOptions{Format: "json", EnvFile: filepath.Join(dir, "none.env")},
		Listener:    ln,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := &cobra.Command{}
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runStubRemote(opts, cmd) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	r := remote.NewHTTP(base)
	receipt, err := r.Submit(ctx, model.EntityLedgerEntry, "led_000001", []byte(`{"entry_id":"led_000001"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.RemoteID)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stub remote did not stop")
	}
}
