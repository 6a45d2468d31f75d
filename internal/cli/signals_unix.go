//go:build unix

package cli

import (
	"os"
	"syscall"

	"github.com/roach88/dairyledger/internal/app"
)

// controlSignals steer a running sync loop without stopping it.
var controlSignals = []os.Signal{syscall.SIGUSR1, syscall.SIGUSR2}

// handleControlSignal applies sig to a and reports whether it was a control
// signal. SIGUSR1 asks for a sync now; SIGUSR2 flips the reported network
// state.
func handleControlSignal(a *app.App, sig os.Signal) bool {
	switch sig {
	case syscall.SIGUSR1:
		a.Logger.Info("sync requested by signal")
		a.Resume()
	case syscall.SIGUSR2:
		online := !a.Monitor.State().Reported
		a.SetOnline(online)
	default:
		return false
	}
	return true
}
