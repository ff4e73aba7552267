package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.0.0"

// errInvalid exits 1 after the command already printed why.
var errInvalid = errors.New("invalid")

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "studysched",
		Short:         "Participant task scheduling for research studies",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(validateCmd())
	root.AddCommand(tasksCmd())
	root.AddCommand(assignCmd())
	root.AddCommand(serveCmd())
	return root
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}
