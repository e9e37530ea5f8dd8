package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

// ErrNotFound is returned when a dapp does not exist.
var ErrNotFound = errors.New("dapp not found")

// State is the lifecycle state of a hosted dapp.
type State string

const (
	StateBuilding  State = "BUILDING_DAPP"
	StateAvailable State = "AVAILABLE"
	StateFailed    State = "FAILED"
	// StateDeleting is written by the deletion consumer; tolerated on read.
	StateDeleting State = "DELETING"
)

// Dapp is one hosted static site.
type Dapp struct {
	Name            string
	OwnerEmail      string
	State           State
	Tier            string
	DNSName         string
	DistributionID  string
	DistributionDNS string
	// Attributes carries fields written by other actors (API, build pipeline) that this
	// worker never interprets but must preserve on read-modify-write.
	Attributes map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// UpdateTime pairs a dapp with its last update.
type UpdateTime struct {
	DappName  string
	UpdatedAt time.Time
}

// LapsedUser is one ledger row: an owner inside the payment grace period.
type LapsedUser struct {
	OwnerEmail string
	LapsedAt   time.Time
}

// Repository abstracts the resource table and the lapsed-user ledger.
type Repository interface {
	Get(ctx context.Context, name string) (Dapp, error)
	Put(ctx context.Context, d Dapp) error
	Delete(ctx context.Context, name string) error
	ListByOwner(ctx context.Context, email string) ([]Dapp, error)
	PutLapsedUser(ctx context.Context, u LapsedUser) error
	DeleteLapsedUser(ctx context.Context, email string) error
	ScanLapsedUsers(ctx context.Context) ([]LapsedUser, error)
}

// Service is the resource table gateway. Every repository call goes through the retry executor
// and every write is an unconditional overwrite; concurrent writers are last-writer-wins.
type Service struct {
	repo   Repository
	exec   *retry.Executor
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Service. grace is the payment-lapsed grace period.
func New(repo Repository, exec *retry.Executor, grace time.Duration, logger *zap.Logger) *Service {
	if repo == nil {
		panic("dapps repo is required")
	}
	if exec == nil {
		panic("retry executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, exec: exec, grace: grace, logger: logger, now: time.Now}
}

// do runs fn through the executor. Missing rows are final, never retried.
func (s *Service) do(ctx context.Context, op string, fn func(context.Context) error) error {
	return s.exec.Do(ctx, op, retry.Default, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (s *Service) GetDapp(ctx context.Context, name string) (Dapp, error) {
	var d Dapp
	err := s.do(ctx, "dapps.Get", func(ctx context.Context) error {
		var err error
		d, err = s.repo.Get(ctx, name)
		return err
	})
	return d, err
}

// PutDapp overwrites the full record.
func (s *Service) PutDapp(ctx context.Context, d Dapp) error {
	if d.Name == "" {
		return errors.New("dapp name is required")
	}
	return s.do(ctx, "dapps.Put", func(ctx context.Context) error {
		return s.repo.Put(ctx, d)
	})
}

func (s *Service) DeleteDapp(ctx context.Context, name string) error {
	return s.do(ctx, "dapps.Delete", func(ctx context.Context) error {
		return s.repo.Delete(ctx, name)
	})
}

func (s *Service) dappsByOwner(ctx context.Context, email string) ([]Dapp, error) {
	var dapps []Dapp
	err := s.do(ctx, "dapps.ListByOwner", func(ctx context.Context) error {
		var err error
		dapps, err = s.repo.ListByOwner(ctx, email)
		return err
	})
	return dapps, err
}

// DappNamesByOwner returns the names of every dapp owned by email, in no particular order.
func (s *Service) DappNamesByOwner(ctx context.Context, email string) ([]string, error) {
	dapps, err := s.dappsByOwner(ctx, email)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dapps))
	for _, d := range dapps {
		names = append(names, d.Name)
	}
	return names, nil
}

func (s *Service) DappUpdateTimesByOwner(ctx context.Context, email string) ([]UpdateTime, error) {
	dapps, err := s.dappsByOwner(ctx, email)
	if err != nil {
		return nil, err
	}
	out := make([]UpdateTime, 0, len(dapps))
	for _, d := range dapps {
		out = append(out, UpdateTime{DappName: d.Name, UpdatedAt: d.UpdatedAt})
	}
	return out, nil
}

func (s *Service) SetDappAvailable(ctx context.Context, name string) error {
	return s.patch(ctx, name, func(d *Dapp) { d.State = StateAvailable })
}

func (s *Service) SetDappFailed(ctx context.Context, name string) error {
	return s.patch(ctx, name, func(d *Dapp) { d.State = StateFailed })
}

// SetDappBuilding records the CDN distribution (when known) and moves the dapp to building.
func (s *Service) SetDappBuilding(ctx context.Context, name, distributionID, distributionDNS string) error {
	return s.patch(ctx, name, func(d *Dapp) {
		if distributionID != "" {
			d.DistributionID = distributionID
		}
		if distributionDNS != "" {
			d.DistributionDNS = distributionDNS
		}
		d.State = StateBuilding
	})
}

// patch fetches the full record, applies fn and writes the record back. There is no
// concurrency check; a concurrent writer between the read and the write loses its update.
func (s *Service) patch(ctx context.Context, name string, fn func(*Dapp)) error {
	d, err := s.GetDapp(ctx, name)
	if err != nil {
		return fmt.Errorf("read dapp %q: %w", name, err)
	}
	fn(&d)
	if err := s.PutDapp(ctx, d); err != nil {
		return fmt.Errorf("write dapp %q: %w", name, err)
	}
	return nil
}

// PutLapsedUser records email as lapsed now, resetting any earlier lapse time.
func (s *Service) PutLapsedUser(ctx context.Context, email string) error {
	u := LapsedUser{OwnerEmail: email, LapsedAt: s.now().UTC()}
	return s.do(ctx, "lapsedUsers.Put", func(ctx context.Context) error {
		return s.repo.PutLapsedUser(ctx, u)
	})
}

func (s *Service) DeleteLapsedUser(ctx context.Context, email string) error {
	return s.do(ctx, "lapsedUsers.Delete", func(ctx context.Context) error {
		return s.repo.DeleteLapsedUser(ctx, email)
	})
}

func (s *Service) ScanLapsedUsers(ctx context.Context) ([]LapsedUser, error) {
	var users []LapsedUser
	err := s.do(ctx, "lapsedUsers.Scan", func(ctx context.Context) error {
		var err error
		users, err = s.repo.ScanLapsedUsers(ctx)
		return err
	})
	return users, err
}

// PotentialFailedUsers returns the owners whose ledger row is older than the grace period at now.
func (s *Service) PotentialFailedUsers(ctx context.Context, now time.Time) ([]string, error) {
	users, err := s.ScanLapsedUsers(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, u := range users {
		if now.Sub(u.LapsedAt) > s.grace {
			out = append(out, u.OwnerEmail)
		}
	}
	s.logger.Info("scanned lapsed users",
		zap.Int("ledger_rows", len(users)),
		zap.Int("past_grace", len(out)),
		zap.Duration("grace_period", s.grace),
	)
	return out, nil
}
