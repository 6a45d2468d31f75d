//go:build !unix

package cli

import (
	"os"

	"github.com/roach88/dairyledger/internal/app"
)

var controlSignals []os.Signal

func handleControlSignal(*app.App, os.Signal) bool {
	return false
}
