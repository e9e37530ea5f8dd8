package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zenGate-Global/dappbot-ops/domains/billing/be/directory"
	"github.com/zenGate-Global/dappbot-ops/domains/dapps/be/repo"
	"github.com/zenGate-Global/dappbot-ops/domains/dapps/be/service"
	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (d *recordingDispatcher) DispatchDeletions(ctx context.Context, names []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.names = append(d.names, names...)
	return nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

type recordingTracker struct {
	mu     sync.Mutex
	events []string
}

func (t *recordingTracker) record(e string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func (t *recordingTracker) SubscriptionLapsed(email string)    { t.record("lapsed:" + email) }
func (t *recordingTracker) SubscriptionCancelled(email string) { t.record("cancelled:" + email) }
func (t *recordingTracker) SubscriptionRestored(email string)  { t.record("restored:" + email) }

// flakyLedger fails the first deleteFailures ledger-row deletions.
type flakyLedger struct {
	*service.Service
	deleteFailures int
}

func (l *flakyLedger) DeleteLapsedUser(ctx context.Context, email string) error {
	if l.deleteFailures > 0 {
		l.deleteFailures--
		return errors.New("process terminated")
	}
	return l.Service.DeleteLapsedUser(ctx, email)
}

type fixture struct {
	repo       *repo.MemoryRepository
	dapps      *service.Service
	client     *directory.MemoryClient
	dispatcher *recordingDispatcher
	tracker    *recordingTracker
	metrics    *metrics.Metrics
	logger     *zap.Logger
	logs       *observer.ObservedLogs
}

func newFixture() *fixture {
	core, logs := observer.New(zap.InfoLevel)
	r := repo.NewMemoryRepository()
	return &fixture{
		repo:       r,
		dapps:      service.New(r, fastExecutor(), 72*time.Hour, zap.NewNop()),
		client:     directory.NewMemoryClient(),
		dispatcher: &recordingDispatcher{},
		tracker:    &recordingTracker{},
		metrics:    metrics.New(prometheus.NewRegistry()),
		logger:     zap.New(core),
		logs:       logs,
	}
}

func fastExecutor() *retry.Executor {
	return retry.New(retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
}

func (f *fixture) reconciler(ledger Ledger, opts ...Option) *Reconciler {
	gw := directory.NewGateway(f.client, fastExecutor(), f.logger)
	base := []Option{WithTracker(f.tracker), WithMetrics(f.metrics), WithLogger(f.logger)}
	return New(ledger, gw, f.dispatcher, append(base, opts...)...)
}

// owner seeds a ledger row lapsed age ago, a directory status and the owner's dapps.
func (f *fixture) owner(t *testing.T, email string, age time.Duration, status string, dapps ...string) {
	t.Helper()
	ctx := context.Background()
	if age >= 0 {
		require.NoError(t, f.repo.PutLapsedUser(ctx, service.LapsedUser{OwnerEmail: email, LapsedAt: now.Add(-age)}))
	}
	attrs := []directory.Attribute{
		{Name: directory.AttrNumDapps, Value: "3"},
		{Name: directory.AttrStandardLimit, Value: "3"},
		{Name: directory.AttrProfessionalLimit, Value: "1"},
		{Name: directory.AttrEnterpriseLimit, Value: "1"},
	}
	if status != "" {
		attrs = append(attrs, directory.Attribute{Name: directory.AttrPaymentStatus, Value: status})
	}
	f.client.Seed(email, attrs...)
	for _, name := range dapps {
		require.NoError(t, f.repo.Put(ctx, service.Dapp{Name: name, OwnerEmail: email, State: service.StateAvailable}))
	}
}

func (f *fixture) ledgerOwners(t *testing.T) []string {
	t.Helper()
	rows, err := f.repo.ScanLapsedUsers(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.OwnerEmail)
	}
	return out
}

func (f *fixture) status(email string) string {
	v, _ := f.client.Value(email, directory.AttrPaymentStatus)
	return v
}

func (f *fixture) requireLimitsZeroed(t *testing.T, email string) {
	t.Helper()
	for _, name := range directory.LimitAttributes {
		v, _ := f.client.Value(email, name)
		require.Equal(t, "0", v, name)
	}
}

func TestReconcileConfirmsFailedOwner(t *testing.T) {
	f := newFixture()
	f.owner(t, "a@x.com", 100*time.Hour, "LAPSED", "kitties", "puppies")
	f.owner(t, "other@x.com", -1, "ACTIVE", "unrelated")

	report, err := f.reconciler(f.dapps).Reconcile(context.Background(), now)
	require.NoError(t, err)

	require.Equal(t, []string{"a@x.com"}, report.Failed)
	require.ElementsMatch(t, []string{"kitties", "puppies"}, f.dispatcher.dispatched())
	require.Equal(t, "FAILED", f.status("a@x.com"))
	f.requireLimitsZeroed(t, "a@x.com")
	require.Empty(t, f.ledgerOwners(t))
	require.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReconcileOwners.WithLabelValues(string(OutcomeFailed))))
}

func TestReconcileConfirmsRecoveredOwner(t *testing.T) {
	f := newFixture()
	f.owner(t, "b@x.com", 100*time.Hour, "ACTIVE", "kitties")

	report, err := f.reconciler(f.dapps).Reconcile(context.Background(), now)
	require.NoError(t, err)

	require.Equal(t, []string{"b@x.com"}, report.Recovered)
	require.Empty(t, f.dispatcher.dispatched())
	require.Zero(t, f.client.Updates("b@x.com"))
	require.Empty(t, f.ledgerOwners(t))
}

func TestReconcileLeavesOwnersInsideGracePeriod(t *testing.T) {
	f := newFixture()
	f.owner(t, "fresh@x.com", 10*time.Hour, "LAPSED", "kitties")
	f.owner(t, "edge@x.com", 72*time.Hour, "LAPSED", "puppies")

	report, err := f.reconciler(f.dapps).Reconcile(context.Background(), now)
	require.NoError(t, err)

	require.Zero(t, report.Candidates)
	require.Empty(t, f.dispatcher.dispatched())
	require.ElementsMatch(t, []string{"fresh@x.com", "edge@x.com"}, f.ledgerOwners(t))
	require.Equal(t, "LAPSED", f.status("fresh@x.com"))
}

func TestReconcileKeepsCancelledStatus(t *testing.T) {
	f := newFixture()
	f.owner(t, "c@x.com", 100*time.Hour, "CANCELLED", "kitties")

	_, err := f.reconciler(f.dapps).Reconcile(context.Background(), now)
	require.NoError(t, err)

	require.Equal(t, "CANCELLED", f.status("c@x.com"))
	f.requireLimitsZeroed(t, "c@x.com")
	require.Equal(t, []string{"kitties"}, f.dispatcher.dispatched())
}

func TestReconcileSkipsAnomalies(t *testing.T) {
	f := newFixture()
	f.owner(t, "trial@x.com", 100*time.Hour, "TRIALING", "kitties")
	f.owner(t, "nostatus@x.com", 100*time.Hour, "", "puppies")
	require.NoError(t, f.repo.PutLapsedUser(context.Background(), service.LapsedUser{OwnerEmail: "ghost@x.com", LapsedAt: now.Add(-100 * time.Hour)}))

	report, err := f.reconciler(f.dapps).Reconcile(context.Background(), now)
	require.NoError(t, err)

	require.Equal(t, []string{"ghost@x.com", "nostatus@x.com", "trial@x.com"}, report.Skipped)
	require.Empty(t, report.Errors)
	require.Empty(t, f.dispatcher.dispatched())
	require.Len(t, f.ledgerOwners(t), 3)
	require.Equal(t, "TRIALING", f.status("trial@x.com"))
	require.Equal(t, 1, f.logs.FilterMessage("unrecognized payment status").Len())
}

func TestReconcileIsIdempotentAcrossCrash(t *testing.T) {
	f := newFixture()
	f.owner(t, "a@x.com", 100*time.Hour, "LAPSED", "kitties", "puppies")
	ledger := &flakyLedger{Service: f.dapps, deleteFailures: 1}
	r := f.reconciler(ledger)
	ctx := context.Background()

	report, err := r.Reconcile(ctx, now)
	require.NoError(t, err)
	require.Contains(t, report.Errors, "a@x.com")
	require.Error(t, report.Err())
	require.Equal(t, []string{"a@x.com"}, f.ledgerOwners(t))
	require.Equal(t, "FAILED", f.status("a@x.com"))

	report, err = r.Reconcile(ctx, now)
	require.NoError(t, err)
	require.Equal(t, []string{"a@x.com"}, report.Failed)
	require.NoError(t, report.Err())

	require.Empty(t, f.ledgerOwners(t))
	require.Equal(t, "FAILED", f.status("a@x.com"))
	f.requireLimitsZeroed(t, "a@x.com")
	require.ElementsMatch(t, []string{"kitties", "puppies", "kitties", "puppies"}, f.dispatcher.dispatched())
}

func TestReconcileDispatchFailureKeepsLedgerRow(t *testing.T) {
	f := newFixture()
	f.owner(t, "a@x.com", 100*time.Hour, "LAPSED", "kitties")
	f.dispatcher.err = errors.New("queue unavailable")

	report, err := f.reconciler(f.dapps).Reconcile(context.Background(), now)
	require.NoError(t, err)
	require.Contains(t, report.Errors, "a@x.com")
	require.Equal(t, "LAPSED", f.status("a@x.com"))
	require.Equal(t, []string{"a@x.com"}, f.ledgerOwners(t))
}

func TestReconcileWithWorkerPool(t *testing.T) {
	f := newFixture()
	f.owner(t, "a1@x.com", 100*time.Hour, "LAPSED", "a1-site")
	f.owner(t, "a2@x.com", 90*time.Hour, "FAILED", "a2-site")
	f.owner(t, "b1@x.com", 100*time.Hour, "ACTIVE")
	f.owner(t, "b2@x.com", 80*time.Hour, "ACTIVE")

	report, err := f.reconciler(f.dapps, WithConcurrency(3)).Reconcile(context.Background(), now)
	require.NoError(t, err)

	require.Equal(t, 4, report.Candidates)
	require.Equal(t, []string{"a1@x.com", "a2@x.com"}, report.Failed)
	require.Equal(t, []string{"b1@x.com", "b2@x.com"}, report.Recovered)
	require.ElementsMatch(t, []string{"a1-site", "a2-site"}, f.dispatcher.dispatched())
	require.Empty(t, f.ledgerOwners(t))
}

func TestHandleLapsedNotification(t *testing.T) {
	f := newFixture()
	f.owner(t, "a@x.com", -1, "ACTIVE", "kitties")

	require.NoError(t, f.reconciler(f.dapps).HandlePaymentStatus(context.Background(), "a@x.com", directory.StatusLapsed))

	require.Equal(t, "LAPSED", f.status("a@x.com"))
	require.Equal(t, []string{"a@x.com"}, f.ledgerOwners(t))
	require.Empty(t, f.dispatcher.dispatched())
	require.Equal(t, []string{"lapsed:a@x.com"}, f.tracker.events)
}

func TestHandleActiveNotification(t *testing.T) {
	f := newFixture()
	f.owner(t, "a@x.com", 5*time.Hour, "LAPSED", "kitties")

	require.NoError(t, f.reconciler(f.dapps).HandlePaymentStatus(context.Background(), "a@x.com", directory.StatusActive))

	require.Equal(t, "ACTIVE", f.status("a@x.com"))
	require.Empty(t, f.ledgerOwners(t))
	v, _ := f.client.Value("a@x.com", directory.AttrStandardLimit)
	require.Equal(t, "3", v)
	require.Equal(t, []string{"restored:a@x.com"}, f.tracker.events)
}

func TestHandleCancelledNotification(t *testing.T) {
	f := newFixture()
	f.owner(t, "a@x.com", 5*time.Hour, "LAPSED", "kitties", "puppies")

	require.NoError(t, f.reconciler(f.dapps).HandlePaymentStatus(context.Background(), "a@x.com", directory.StatusCancelled))

	require.Equal(t, "CANCELLED", f.status("a@x.com"))
	f.requireLimitsZeroed(t, "a@x.com")
	require.ElementsMatch(t, []string{"kitties", "puppies"}, f.dispatcher.dispatched())
	require.Empty(t, f.ledgerOwners(t))
	require.Equal(t, []string{"cancelled:a@x.com"}, f.tracker.events)
}

func TestHandleNotificationEffectsAreIndependent(t *testing.T) {
	f := newFixture()
	f.owner(t, "a@x.com", -1, "ACTIVE", "kitties")
	f.client.FailUpdates = 1
	f.client.Err = retry.Permanent(errors.New("permission denied"))

	err := f.reconciler(f.dapps).HandlePaymentStatus(context.Background(), "a@x.com", directory.StatusLapsed)
	require.ErrorContains(t, err, "permission denied")

	require.Equal(t, "ACTIVE", f.status("a@x.com"))
	require.Equal(t, []string{"a@x.com"}, f.ledgerOwners(t))
}

func TestHandleUnrecognizedNotificationIsNoop(t *testing.T) {
	f := newFixture()
	f.owner(t, "a@x.com", 5*time.Hour, "LAPSED", "kitties")

	require.NoError(t, f.reconciler(f.dapps).HandlePaymentStatus(context.Background(), "a@x.com", directory.PaymentStatus("PAUSED")))

	require.Equal(t, "LAPSED", f.status("a@x.com"))
	require.Equal(t, []string{"a@x.com"}, f.ledgerOwners(t))
	require.Zero(t, f.client.Updates("a@x.com"))
	require.Equal(t, 1, f.logs.FilterMessage("unrecognized payment status notification, ignoring").Len())
}

func TestHandleNotificationForUnknownOwnerIsSkipped(t *testing.T) {
	statuses := []directory.PaymentStatus{
		directory.StatusActive, directory.StatusLapsed, directory.StatusFailed, directory.StatusCancelled,
	}
	for _, status := range statuses {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture()
			require.NoError(t, f.repo.Put(context.Background(), service.Dapp{Name: "orphan", OwnerEmail: "ghost@x.com", State: service.StateAvailable}))
			rec := f.reconciler(f.dapps)

			// Redelivery must not stamp the ledger again.
			for range 3 {
				require.NoError(t, rec.HandlePaymentStatus(context.Background(), "ghost@x.com", status))
			}

			require.Empty(t, f.ledgerOwners(t))
			require.Empty(t, f.dispatcher.dispatched())
			require.Empty(t, f.tracker.events)
			require.Equal(t, 3, f.logs.FilterMessage("payment status notification for owner not in directory, skipping").Len())
		})
	}
}
