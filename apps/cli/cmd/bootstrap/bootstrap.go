package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/cmdutil"
	"github.com/zenGate-Global/dappbot-ops/platform/go/persistence"
	"github.com/zenGate-Global/dappbot-ops/platform/go/setups"
)

// Notes/constraints:
// - Table creation is idempotent; running it against a live database is safe.
// - Only the dapp table and the lapsed-user ledger are managed here. Queues, buckets
//   and CDN distributions belong to the provisioning stack.

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap worker resources",
		Long:  "Bootstrap the database tables the worker reads and writes.",
	}

	cmd.AddCommand(databaseCommand())
	return cmd
}

func databaseCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "database",
		Short: "Create the dapp table and lapsed-user ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := cmdutil.Load(cmd)
			if err != nil {
				return err
			}
			if databaseURL != "" {
				rt.Config.DatabaseURL = databaseURL
			}
			ctx := rt.Context(cmd.Context())

			pool, err := setups.OpenPool(ctx, rt.Config)
			if err != nil {
				return err
			}
			defer persistence.ClosePool(pool)

			tables := setups.Tables(rt.Config)
			for _, table := range []string{tables.Dapps, tables.LapsedUsers} {
				if err := ensureTableReady(ctx, pool, table); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Bootstrap complete. Tables: %s, %s\n", tables.Dapps, tables.LapsedUsers)
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	return c
}

// ensureTableReady verifies a table exists in the connection's search path.
func ensureTableReady(ctx context.Context, pool *pgxpool.Pool, table string) error {
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
		return fmt.Errorf("check table %s: %w", table, err)
	}
	if !exists {
		return fmt.Errorf("table %q not found after bootstrap", table)
	}
	return nil
}
