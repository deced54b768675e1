package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/turing-shop/turing-ledger/config"
	"github.com/turing-shop/turing-ledger/internal/infrastructure/persistence/postgres"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)

	rootCmd.AddCommand(seedCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
	Long:  `Apply, roll back or list the embedded schema migrations of the PostgreSQL store (DATABASE_URL).`,
}

// ─── migrate up ─────────────────────────────────────────────────────────────

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, cfg *config.Config, conn *postgres.Connection) error {
			return migrateUp(ctx, conn, setupSlog(cfg))
		})
	},
}

// ─── migrate down ───────────────────────────────────────────────────────────

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last applied migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, _ *config.Config, conn *postgres.Connection) error {
			if err := postgres.NewMigrator(conn).Rollback(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "rolled back the last migration")
			return nil
		})
	},
}

// ─── migrate status ─────────────────────────────────────────────────────────

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, _ *config.Config, conn *postgres.Connection) error {
			status, err := postgres.NewMigrator(conn).Status(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
			for _, m := range status {
				applied := "pending"
				if m.IsApplied {
					applied = m.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, applied)
			}
			return w.Flush()
		})
	},
}

// ─── seed ───────────────────────────────────────────────────────────────────

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Load groups, students, products and activities into PostgreSQL",
	Long: `Load a YAML or JSON fixture into the PostgreSQL store. Existing records
are left untouched, so a fixture can be applied more than once.
The in-memory store is seeded with 'ledgerd serve --seed FILE' instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(cmd.Context(), func(ctx context.Context, cfg *config.Config, conn *postgres.Connection) error {
			return seedStore(ctx, postgres.NewStore(conn), args[0], setupSlog(cfg))
		})
	},
}

// withDatabase loads the config, connects to PostgreSQL and runs fn.
func withDatabase(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, conn *postgres.Connection) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	conn, err := connectPostgres(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "hint: set DATABASE_URL or DB_HOST/DB_USER")
		return err
	}
	defer conn.Close()

	return fn(ctx, cfg, conn)
}
