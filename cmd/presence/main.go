package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes of the presence binary.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// configError marks failures that come from the environment rather than from running.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "presence: %v\n", err)
	}
	os.Exit(code)
}

// run keeps os.Exit out of the commands so their defers (badger close, server shutdown) always run.
func run() (int, error) {
	rootCmd := &cobra.Command{
		Use:   "presence",
		Short: "Real-time presence synchronization server",
		Long: `presence keeps every connected participant (position, rotation, color, name)
in sync across websocket clients, and evicts the ones that went silent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd(), journalCmd(), botCmd())

	if err := rootCmd.Execute(); err != nil {
		var cfgErr configError
		if stderrors.As(err, &cfgErr) {
			return exitConfig, err
		}
		return exitRuntime, err
	}
	return exitOK, nil
}
