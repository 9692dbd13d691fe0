/*
main.go - Application entry point

PURPOSE:
  Starts the table ledger: billing engine, SQLite store, HTTP API and the
  periodic ledger audit. Handles configuration, wiring, and graceful
  shutdown.

COMMANDS:
  serve    Run the HTTP API (default when no command is given)
  audit    Audit the ledger once and exit non-zero on violations

STARTUP SEQUENCE (serve):
  1. Load configuration (.env, environment, then flags)
  2. Initialize logging and the SQLite store
  3. Build the engine (locks, logger, Prometheus observer)
  4. Configure HTTP router and start the audit scheduler
  5. Start server with graceful shutdown

FLAGS:
  --port   HTTP server port (overrides APP_PORT)
  --db     SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit scheduler
  4. Close database connection

EXAMPLES:
  ./server serve --db=./data/ledger.db
  ./server serve --db=":memory:" --port=3000
  ./server audit --db=./data/ledger.db

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagPort int
	flagDB   string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Billing and ledger engine for a pay-per-use table venue",
	Long: `Table ledger prices frames, charges players by payer mode, allocates
payments oldest charge first and reports reconciled customer balances.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "HTTP server port (default from APP_PORT)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (default from DB_PATH)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
