package repo

import (
	"context"
	"errors"

	"github.com/zenGate-Global/dappbot-ops/domains/dapps/be/service"
	"github.com/zenGate-Global/dappbot-ops/platform/go/persistence"
)

// PostgresRepository adapts the persistence stores to the dapps service.
type PostgresRepository struct {
	dapps  *persistence.DappStore
	lapsed *persistence.LapsedUserStore
}

// NewPostgresRepository constructs the repository backed by pgx stores.
func NewPostgresRepository(dapps *persistence.DappStore, lapsed *persistence.LapsedUserStore) *PostgresRepository {
	if dapps == nil || lapsed == nil {
		panic("dapp and lapsed-user stores are required")
	}
	return &PostgresRepository{dapps: dapps, lapsed: lapsed}
}

func (r *PostgresRepository) Get(ctx context.Context, name string) (service.Dapp, error) {
	rec, err := r.dapps.Get(ctx, name)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return service.Dapp{}, service.ErrNotFound
		}
		return service.Dapp{}, err
	}
	return fromRecord(rec), nil
}

func (r *PostgresRepository) Put(ctx context.Context, d service.Dapp) error {
	return r.dapps.Put(ctx, toRecord(d))
}

func (r *PostgresRepository) Delete(ctx context.Context, name string) error {
	return r.dapps.Delete(ctx, name)
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, email string) ([]service.Dapp, error) {
	recs, err := r.dapps.ListByOwner(ctx, email)
	if err != nil {
		return nil, err
	}
	out := make([]service.Dapp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func (r *PostgresRepository) PutLapsedUser(ctx context.Context, u service.LapsedUser) error {
	return r.lapsed.Put(ctx, persistence.LapsedUserRecord{OwnerEmail: u.OwnerEmail, LapsedAt: u.LapsedAt})
}

func (r *PostgresRepository) DeleteLapsedUser(ctx context.Context, email string) error {
	return r.lapsed.Delete(ctx, email)
}

func (r *PostgresRepository) ScanLapsedUsers(ctx context.Context) ([]service.LapsedUser, error) {
	recs, err := r.lapsed.Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]service.LapsedUser, 0, len(recs))
	for _, rec := range recs {
		out = append(out, service.LapsedUser{OwnerEmail: rec.OwnerEmail, LapsedAt: rec.LapsedAt})
	}
	return out, nil
}

func fromRecord(rec persistence.DappRecord) service.Dapp {
	d := service.Dapp{
		Name:       rec.DappName,
		OwnerEmail: rec.OwnerEmail,
		State:      service.State(rec.State),
		Tier:       rec.Tier,
		DNSName:    rec.DNSName,
		Attributes: rec.Attributes,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.DistributionID != nil {
		d.DistributionID = *rec.DistributionID
	}
	if rec.DistributionDNS != nil {
		d.DistributionDNS = *rec.DistributionDNS
	}
	return d
}

func toRecord(d service.Dapp) persistence.DappRecord {
	return persistence.DappRecord{
		DappName:        d.Name,
		OwnerEmail:      d.OwnerEmail,
		State:           string(d.State),
		Tier:            d.Tier,
		DNSName:         d.DNSName,
		DistributionID:  strPtrOrNil(d.DistributionID),
		DistributionDNS: strPtrOrNil(d.DistributionDNS),
		Attributes:      d.Attributes,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func strPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ service.Repository = (*PostgresRepository)(nil)
