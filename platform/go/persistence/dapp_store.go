package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("record not found")

// DappRecord is one row of the dapp resource table.
type DappRecord struct {
	DappName        string            `db:"dapp_name"`
	OwnerEmail      string            `db:"owner_email"`
	State           string            `db:"state"`
	Tier            string            `db:"tier"`
	DNSName         string            `db:"dns_name"`
	DistributionID  *string           `db:"distribution_id"`
	DistributionDNS *string           `db:"distribution_dns"`
	Attributes      map[string]string `db:"attributes"`
	CreatedAt       time.Time         `db:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at"`
}

// DappStore provides access to the dapp table. Writes are unconditional overwrites.
type DappStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewDappStore creates a store; assumes Bootstrap already created the table.
func NewDappStore(pool *pgxpool.Pool, table string) (*DappStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		return nil, errors.New("dapp table name is required")
	}
	return &DappStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

const dappColumns = `dapp_name, owner_email, state, tier, dns_name, distribution_id,
        distribution_dns, attributes, created_at, updated_at`

// Get fetches one dapp by name.
func (s *DappStore) Get(ctx context.Context, name string) (DappRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE dapp_name = $1`, dappColumns, s.table)
	return scanDappRecord(s.pool.QueryRow(ctx, query, name))
}

// Put writes the full record, replacing any existing row with the same name.
func (s *DappStore) Put(ctx context.Context, rec DappRecord) error {
	if rec.DappName == "" {
		return errors.New("dapp name is required")
	}
	if rec.Attributes == nil {
		rec.Attributes = map[string]string{}
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (%s)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (dapp_name) DO UPDATE SET
            owner_email = EXCLUDED.owner_email,
            state = EXCLUDED.state,
            tier = EXCLUDED.tier,
            dns_name = EXCLUDED.dns_name,
            distribution_id = EXCLUDED.distribution_id,
            distribution_dns = EXCLUDED.distribution_dns,
            attributes = EXCLUDED.attributes,
            created_at = EXCLUDED.created_at,
            updated_at = EXCLUDED.updated_at
    `, s.table, dappColumns)

	_, err := s.pool.Exec(ctx, query,
		rec.DappName, rec.OwnerEmail, rec.State, rec.Tier, rec.DNSName, rec.DistributionID,
		rec.DistributionDNS, rec.Attributes, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// Delete removes a dapp row; deleting a missing row is not an error.
func (s *DappStore) Delete(ctx context.Context, name string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE dapp_name = $1`, s.table)
	_, err := s.pool.Exec(ctx, query, name)
	return err
}

// ListByOwner returns every dapp owned by email through the owner_email index.
func (s *DappStore) ListByOwner(ctx context.Context, email string) ([]DappRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_email = $1`, dappColumns, s.table)
	rows, err := s.pool.Query(ctx, query, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DappRecord
	for rows.Next() {
		rec, err := scanDappRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanDappRecord(row pgx.Row) (DappRecord, error) {
	var rec DappRecord
	if err := row.Scan(&rec.DappName, &rec.OwnerEmail, &rec.State, &rec.Tier, &rec.DNSName,
		&rec.DistributionID, &rec.DistributionDNS, &rec.Attributes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DappRecord{}, ErrNotFound
		}
		return DappRecord{}, err
	}
	if rec.Attributes == nil {
		rec.Attributes = map[string]string{}
	}
	return rec, nil
}
