// Package setups assembles the worker's collaborators from configuration. The worker
// binary and the CLI share it so both run the same code paths against the same backends.
package setups

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/domains/billing/be/directory"
	"github.com/zenGate-Global/dappbot-ops/domains/billing/be/reconciler"
	dappsrepo "github.com/zenGate-Global/dappbot-ops/domains/dapps/be/repo"
	dappsservice "github.com/zenGate-Global/dappbot-ops/domains/dapps/be/service"
	"github.com/zenGate-Global/dappbot-ops/domains/distributions/be/gc"
	"github.com/zenGate-Global/dappbot-ops/domains/pipeline/be/jobs"
	"github.com/zenGate-Global/dappbot-ops/domains/triggers/be/handler"
	"github.com/zenGate-Global/dappbot-ops/platform/go/awsclients"
	"github.com/zenGate-Global/dappbot-ops/platform/go/config"
	"github.com/zenGate-Global/dappbot-ops/platform/go/gcp"
	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
	"github.com/zenGate-Global/dappbot-ops/platform/go/notify"
	"github.com/zenGate-Global/dappbot-ops/platform/go/persistence"
	"github.com/zenGate-Global/dappbot-ops/platform/go/queue"
	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
	"github.com/zenGate-Global/dappbot-ops/platform/go/storage"
)

// Stack is the fully wired worker.
type Stack struct {
	Config   config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Exec     *retry.Executor

	Pool      *pgxpool.Pool
	Dapps     *dappsservice.Service
	Directory *directory.Gateway
	Storage   *storage.Service

	Reconciler *reconciler.Reconciler
	Collector  *gc.Collector
	Completer  *jobs.Completer
	Dispatcher *jobs.Dispatcher
	Handler    *handler.Handler

	// Poller is nil when no inbound queue is configured.
	Poller *queue.Poller

	closers []func()
}

// NewRegistry returns a registry carrying the process and Go runtime collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// OpenPool connects to Postgres and creates the worker's tables when missing.
func OpenPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := persistence.NewPool(ctx, PoolConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init postgres pool: %w", err)
	}
	if err := persistence.Bootstrap(ctx, pool, Tables(cfg)); err != nil {
		persistence.ClosePool(pool)
		return nil, err
	}
	return pool, nil
}

// PoolConfig derives pool settings. Each reconcile worker holds at most one
// connection at a time, plus headroom for GC and trigger handlers.
func PoolConfig(cfg config.Config) persistence.PoolConfig {
	maxConns := cfg.DBMaxConns
	if maxConns <= 0 {
		maxConns = int32(max(cfg.ReconcileConcurrency, 1)) + 4
	}
	return persistence.PoolConfig{
		ConnString:      cfg.DatabaseURL,
		ApplicationName: "dappbot-ops",
		MaxConns:        maxConns,
		ConnectAttempts: cfg.DBConnectAttempts,
		ConnectBackoff:  cfg.DBConnectBackoff,
	}
}

// Tables maps the configured table names.
func Tables(cfg config.Config) persistence.Tables {
	return persistence.Tables{Dapps: cfg.DappTable, LapsedUsers: cfg.LapsedUsersTable}
}

// Build wires every collaborator. Close releases what Build opened, including on error.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *Stack, err error) {
	s := &Stack{Config: cfg, Logger: logger, Registry: NewRegistry()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.Metrics = metrics.New(s.Registry)
	s.Exec = retry.New(cfg.RetryPolicy(), retry.WithLogger(logger), retry.WithMetrics(s.Metrics))

	s.Pool, err = OpenPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { persistence.ClosePool(s.Pool) })

	dappStore, err := persistence.NewDappStore(s.Pool, cfg.DappTable)
	if err != nil {
		return nil, fmt.Errorf("init dapp store: %w", err)
	}
	lapsedStore, err := persistence.NewLapsedUserStore(s.Pool, cfg.LapsedUsersTable)
	if err != nil {
		return nil, fmt.Errorf("init lapsed user store: %w", err)
	}
	s.Dapps = dappsservice.New(dappsrepo.NewPostgresRepository(dappStore, lapsedStore), s.Exec, cfg.GracePeriod(), logger)

	_, authClient, err := gcp.InitFirebaseAuth(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		return nil, err
	}
	s.Directory = directory.NewGateway(directory.NewFirebaseClient(authClient), s.Exec, logger)

	gcsClient, err := gcp.NewStorageClient(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = gcsClient.Close() })
	s.Storage = storage.NewService(gcsClient, s.Exec, logger)

	awsCfg, err := awsclients.Load(ctx, awsclients.Config{Region: cfg.AWSRegion, EndpointURL: cfg.AWSEndpointURL})
	if err != nil {
		return nil, err
	}
	sqsClient := sqs.NewFromConfig(awsCfg)

	s.Dispatcher = jobs.NewDispatcher(sqsClient, cfg.DeletionQueueURL, s.Exec, s.Metrics, logger)

	tracker, err := notify.NewSegment(cfg.SegmentKey, cfg.APIURL, logger)
	if err != nil {
		return nil, fmt.Errorf("init segment: %w", err)
	}
	s.closers = append(s.closers, func() { _ = tracker.Close() })

	s.Reconciler = reconciler.New(s.Dapps, s.Directory, s.Dispatcher,
		reconciler.WithConcurrency(cfg.ReconcileConcurrency),
		reconciler.WithTracker(tracker),
		reconciler.WithMetrics(s.Metrics),
		reconciler.WithLogger(logger),
	)

	s.Collector = gc.NewCollector(gc.NewCloudFront(cloudfront.NewFromConfig(awsCfg)), s.Exec, s.Metrics, logger)

	s.Completer = jobs.NewCompleter(jobs.Deps{
		Reporter: jobs.NewCodePipelineReporter(codepipeline.NewFromConfig(awsCfg)),
		Dapps:    s.Dapps,
		Objects:  s.Storage,
		CDN:      s.Collector,
		Mailer:   notify.NewSendGrid(cfg.SendgridAPIKey, cfg.SendgridFrom, s.Exec, logger),
		Exec:     s.Exec,
		DNSRoot:  cfg.DNSRoot,
		Metrics:  s.Metrics,
		Logger:   logger,
	})

	s.Handler = handler.New(s.Reconciler, s.Collector, s.Completer, s.Metrics, logger)

	if cfg.InboundQueueURL != "" {
		s.Poller = queue.NewPoller(sqsClient, cfg.InboundQueueURL, s.Handler.Message, logger)
	}
	return s, nil
}

// Close releases clients in reverse order of creation.
func (s *Stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// NewStorage builds only the bucket service, for CLI commands that touch nothing else.
func NewStorage(ctx context.Context, cfg config.Config, exec *retry.Executor, logger *zap.Logger) (*storage.Service, func(), error) {
	client, err := gcp.NewStorageClient(ctx, cfg.FirebaseCredentialsFile)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewService(client, exec, logger), func() { _ = client.Close() }, nil
}
