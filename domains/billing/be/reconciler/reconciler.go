// Package reconciler drives owners through the payment lifecycle: it confirms lapsed owners
// as failed or recovered once their grace period has passed, and applies billing
// notifications as they arrive.
//
// Every transition is idempotent. A crash part way through an owner leaves the ledger row
// in place, and the next tick replays the whole owner.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/domains/billing/be/directory"
	"github.com/zenGate-Global/dappbot-ops/platform/go/fanout"
	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
)

// Ledger is the resource table and lapsed-user ledger as the reconciler sees them.
type Ledger interface {
	PotentialFailedUsers(ctx context.Context, now time.Time) ([]string, error)
	DappNamesByOwner(ctx context.Context, email string) ([]string, error)
	PutLapsedUser(ctx context.Context, email string) error
	DeleteLapsedUser(ctx context.Context, email string) error
}

// Directory is the identity directory gateway.
type Directory interface {
	GetUser(ctx context.Context, owner string) ([]directory.Attribute, error)
	PaymentStatus(ctx context.Context, owner string) (directory.PaymentStatus, error)
	SetPaymentStatus(ctx context.Context, owner string, status directory.PaymentStatus) error
	ZeroLimitsAndSetStatus(ctx context.Context, owner string, status directory.PaymentStatus) error
}

// Dispatcher enqueues dapp deletions.
type Dispatcher interface {
	DispatchDeletions(ctx context.Context, names []string) error
}

// Tracker receives subscription analytics events.
type Tracker interface {
	SubscriptionLapsed(email string)
	SubscriptionCancelled(email string)
	SubscriptionRestored(email string)
}

// Outcome classifies one owner in a reconciliation tick.
type Outcome string

const (
	OutcomeFailed    Outcome = "confirmed_failed"
	OutcomeRecovered Outcome = "confirmed_recovered"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeErrored   Outcome = "errored"
)

// Report summarises one tick.
type Report struct {
	Candidates int
	Failed     []string
	Recovered  []string
	Skipped    []string
	Errors     map[string]error
}

// Err joins every per-owner error, or returns nil.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	owners := make([]string, 0, len(r.Errors))
	for o := range r.Errors {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	errs := make([]error, 0, len(owners))
	for _, o := range owners {
		errs = append(errs, fmt.Errorf("%s: %w", o, r.Errors[o]))
	}
	return errors.Join(errs...)
}

// Reconciler applies payment lifecycle transitions.
type Reconciler struct {
	ledger      Ledger
	directory   Directory
	dispatcher  Dispatcher
	tracker     Tracker
	concurrency int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithConcurrency bounds how many owners are processed at once; 1 processes them in order.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithTracker(t Tracker) Option {
	return func(r *Reconciler) { r.tracker = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func New(ledger Ledger, dir Directory, dispatcher Dispatcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger:      ledger,
		directory:   dir,
		dispatcher:  dispatcher,
		tracker:     nopTracker{},
		concurrency: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one tick at now. Only a failed ledger scan is returned as an error;
// per-owner failures are logged, recorded in the report and left for the next tick.
func (r *Reconciler) Reconcile(ctx context.Context, now time.Time) (Report, error) {
	owners, err := r.ledger.PotentialFailedUsers(ctx, now)
	if err != nil {
		return Report{}, fmt.Errorf("scan lapsed users: %w", err)
	}

	report := Report{Candidates: len(owners), Errors: make(map[string]error)}
	var mu sync.Mutex

	fanout.Each(ctx, r.concurrency, owners, func(ctx context.Context, owner string) error {
		outcome, err := r.reconcileOwner(ctx, owner)
		r.metrics.OwnerReconciled(string(outcome))

		mu.Lock()
		defer mu.Unlock()
		switch outcome {
		case OutcomeFailed:
			report.Failed = append(report.Failed, owner)
		case OutcomeRecovered:
			report.Recovered = append(report.Recovered, owner)
		case OutcomeSkipped:
			report.Skipped = append(report.Skipped, owner)
		case OutcomeErrored:
			report.Errors[owner] = err
		}
		return nil
	})

	sort.Strings(report.Failed)
	sort.Strings(report.Recovered)
	sort.Strings(report.Skipped)
	r.logger.Info("reconciliation finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("failed", len(report.Failed)),
		zap.Int("recovered", len(report.Recovered)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("errored", len(report.Errors)),
	)
	return report, nil
}

func (r *Reconciler) reconcileOwner(ctx context.Context, owner string) (Outcome, error) {
	logger := r.logger.With(zap.String("owner_email", owner))

	status, err := r.directory.PaymentStatus(ctx, owner)
	switch {
	case errors.Is(err, directory.ErrAttributeMissing), errors.Is(err, directory.ErrAttributeDuplicated):
		// already logged by the gateway
		return OutcomeSkipped, nil
	case errors.Is(err, directory.ErrUserNotFound):
		logger.Warn("lapsed owner not in directory, skipping")
		return OutcomeSkipped, nil
	case err != nil:
		logger.Error("read payment status failed", zap.Error(err))
		return OutcomeErrored, err
	}

	switch status {
	case directory.StatusLapsed, directory.StatusFailed, directory.StatusCancelled:
		final := directory.StatusFailed
		if status == directory.StatusCancelled {
			final = directory.StatusCancelled
		}
		if err := r.failOut(ctx, owner, final); err != nil {
			logger.Error("failing out owner failed", zap.Error(err))
			return OutcomeErrored, err
		}
		logger.Info("owner confirmed failed", zap.String("payment_status", string(final)))
		return OutcomeFailed, nil

	case directory.StatusActive:
		if err := r.ledger.DeleteLapsedUser(ctx, owner); err != nil {
			logger.Error("removing recovered owner from ledger failed", zap.Error(err))
			return OutcomeErrored, err
		}
		logger.Info("owner confirmed recovered")
		return OutcomeRecovered, nil

	default:
		logger.Warn("unrecognized payment status", zap.String("payment_status", string(status)))
		return OutcomeSkipped, nil
	}
}

// failOut dispatches deletions, zeroes quotas with the final status and only then removes
// the ledger row.
func (r *Reconciler) failOut(ctx context.Context, owner string, final directory.PaymentStatus) error {
	if err := r.dispatchOwnerDeletions(ctx, owner); err != nil {
		return err
	}
	if err := r.directory.ZeroLimitsAndSetStatus(ctx, owner, final); err != nil {
		return err
	}
	if err := r.ledger.DeleteLapsedUser(ctx, owner); err != nil {
		return fmt.Errorf("delete ledger row: %w", err)
	}
	return nil
}

func (r *Reconciler) dispatchOwnerDeletions(ctx context.Context, owner string) error {
	names, err := r.ledger.DappNamesByOwner(ctx, owner)
	if err != nil {
		return fmt.Errorf("list dapps: %w", err)
	}
	if len(names) == 0 {
		return nil
	}
	r.logger.Info("dispatching dapp deletions",
		zap.String("owner_email", owner),
		zap.Strings("dapp_names", names),
	)
	return r.dispatcher.DispatchDeletions(ctx, names)
}

type nopTracker struct{}

func (nopTracker) SubscriptionLapsed(string)    {}
func (nopTracker) SubscriptionCancelled(string) {}
func (nopTracker) SubscriptionRestored(string)  {}
