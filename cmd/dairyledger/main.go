// Command dairyledger records dairy collections, sales and payments in a
// local ledger and syncs them to a remote store.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/dairyledger/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			// Flag and argument errors from cobra itself.
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(cli.ExitCommandError)
		}
		os.Exit(exitErr.Code)
	}
}
