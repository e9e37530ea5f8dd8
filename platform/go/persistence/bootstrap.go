package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/dappbot-ops/database"
)

// Tables names the two tables the worker owns.
type Tables struct {
	Dapps       string
	LapsedUsers string
}

// Bootstrap creates the dapp table and the lapsed-user ledger if missing, in one transaction.
// SQL is embedded so binaries stay self-contained. Idempotent; used by the CLI and tests.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool, tables Tables) error {
	if pool == nil {
		return fmt.Errorf("bootstrap: pool is required")
	}
	if tables.Dapps == "" || tables.LapsedUsers == "" {
		return fmt.Errorf("bootstrap: table names are required")
	}

	dapps := strings.NewReplacer(
		"{{table}}", pgx.Identifier{tables.Dapps}.Sanitize(),
		"{{index}}", pgx.Identifier{tables.Dapps + "_owner_email_idx"}.Sanitize(),
	).Replace(sqlassets.DappsSQL)
	lapsed := strings.ReplaceAll(sqlassets.LapsedUsersSQL, "{{table}}", pgx.Identifier{tables.LapsedUsers}.Sanitize())

	var statements []string
	statements = append(statements, splitStatements(dapps)...)
	statements = append(statements, splitStatements(lapsed)...)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}

func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	out := make([]string, 0, len(raw))
	for _, stmt := range raw {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
