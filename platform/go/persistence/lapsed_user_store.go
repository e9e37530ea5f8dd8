package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LapsedUserRecord is one row of the lapsed-user ledger.
type LapsedUserRecord struct {
	OwnerEmail string    `db:"owner_email"`
	LapsedAt   time.Time `db:"lapsed_at"`
}

// LapsedUserStore provides access to the ledger table.
type LapsedUserStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewLapsedUserStore(pool *pgxpool.Pool, table string) (*LapsedUserStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		return nil, errors.New("lapsed users table name is required")
	}
	return &LapsedUserStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

// Put records email as lapsed at the given instant, overwriting any previous row.
func (s *LapsedUserStore) Put(ctx context.Context, rec LapsedUserRecord) error {
	query := fmt.Sprintf(`
        INSERT INTO %s (owner_email, lapsed_at) VALUES ($1, $2)
        ON CONFLICT (owner_email) DO UPDATE SET lapsed_at = EXCLUDED.lapsed_at
    `, s.table)
	_, err := s.pool.Exec(ctx, query, rec.OwnerEmail, rec.LapsedAt)
	return err
}

func (s *LapsedUserStore) Delete(ctx context.Context, email string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE owner_email = $1`, s.table)
	_, err := s.pool.Exec(ctx, query, email)
	return err
}

// Scan returns every ledger row.
func (s *LapsedUserStore) Scan(ctx context.Context) ([]LapsedUserRecord, error) {
	query := fmt.Sprintf(`SELECT owner_email, lapsed_at FROM %s`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[LapsedUserRecord])
}
