// Package main is the entry point of ledgerd, the Turing economy ledger service.
//
// ledgerd owns every balance and stock mutation of the classroom shop:
// purchases, activity rewards and group deactivation. Collaborators reach it
// over the JSON API served by `ledgerd serve`.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Turing economy ledger service",
	Long: `ledgerd records purchases, activity rewards and group deactivations
of the classroom points economy. Configuration comes from environment
variables (LEDGER_STORE, DATABASE_URL, REDIS_*, HTTP_*, LOG_LEVEL).`,
	Version:      version,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}
