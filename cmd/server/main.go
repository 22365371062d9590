package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Reward settlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(flagLogLevel, "", "log level (trace|debug|info|warn|error); overrides LOG_LEVEL")
	root.PersistentFlags().String(flagLogFormat, "", "log format (json|plain); overrides LOG_FORMAT")

	root.AddCommand(newServeCmd(), newEncodeCmd())
	return root
}
