//go:build unix

package cli

import (
	"context"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/app"
	"github.com/roach88/dairyledger/internal/config"
)

func TestHandleControlSignal(t *testing.T) {
	d := newDevice(t)
	cfg := config.Defaults()
	cfg.Database.Path = d.db
	a, err := app.New(context.Background(), &cfg, d.appOpts)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	assert.True(t, handleControlSignal(a, syscall.SIGUSR2))
	assert.False(t, a.Monitor.State().Reported)
	assert.True(t, handleControlSignal(a, syscall.SIGUSR2))
	assert.True(t, a.Monitor.State().Reported)

	assert.True(t, handleControlSignal(a, syscall.SIGUSR1))
	assert.False(t, handleControlSignal(a, os.Interrupt))
	assert.False(t, handleControlSignal(a, syscall.SIGTERM))
}
