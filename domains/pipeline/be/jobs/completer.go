// Package jobs finishes pipeline jobs and enqueues dapp deletions.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/domains/dapps/be/service"
	"github.com/zenGate-Global/dappbot-ops/platform/go/events"
	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
	"github.com/zenGate-Global/dappbot-ops/platform/go/notify"
	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

// ErrNoDistribution is returned when a dapp has no CDN distribution to invalidate.
var ErrNoDistribution = errors.New("dapp has no distribution")

const indexObject = "index.html"

// Reporter signals job outcomes to the pipeline service.
type Reporter interface {
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID string, cause error) error
}

// Dapps is the slice of the resource table the completer touches.
type Dapps interface {
	GetDapp(ctx context.Context, name string) (service.Dapp, error)
	SetDappAvailable(ctx context.Context, name string) error
	SetDappFailed(ctx context.Context, name string) error
}

type ObjectStore interface {
	MakeObjectNoCache(ctx context.Context, bucket, key string) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, distributionID string, paths []string) error
}

type Mailer interface {
	SendConfirmation(ctx context.Context, c notify.Confirmation) error
}

// Completer runs pipeline jobs inside a single failure boundary: a build job either ends
// with the dapp AVAILABLE and the job completed, or with the job failed and the dapp FAILED.
type Completer struct {
	reporter Reporter
	dapps    Dapps
	objects  ObjectStore
	cdn      Invalidator
	mailer   Mailer
	exec     *retry.Executor
	dnsRoot  string
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Deps groups the Completer's collaborators.
type Deps struct {
	Reporter Reporter
	Dapps    Dapps
	Objects  ObjectStore
	CDN      Invalidator
	Mailer   Mailer
	Exec     *retry.Executor
	DNSRoot  string
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func NewCompleter(d Deps) *Completer {
	if d.Exec == nil {
		panic("retry executor is required")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Completer{
		reporter: d.Reporter,
		dapps:    d.Dapps,
		objects:  d.Objects,
		cdn:      d.CDN,
		mailer:   d.Mailer,
		exec:     d.Exec,
		dnsRoot:  d.DNSRoot,
		metrics:  d.Metrics,
		logger:   d.Logger,
	}
}

// Run executes job and reports its outcome. The returned error is the job failure (if any)
// joined with any failure to report it.
func (c *Completer) Run(ctx context.Context, job events.PipelineJob) error {
	logger := c.logger.With(zap.String("job_id", job.ID()), zap.String("job_type", job.Type()))

	var err error
	switch j := job.(type) {
	case events.BuildJob:
		logger = logger.With(zap.String("dapp_name", j.DappName), zap.String("owner_email", j.OwnerEmail))
		err = c.postBuild(ctx, j)
	case events.InvalidateJob:
		logger = logger.With(zap.String("dapp_name", j.DappName))
		err = c.invalidate(ctx, j)
	default:
		err = fmt.Errorf("%w: job type %q", events.ErrUnrecognized, job.Type())
	}
	if err == nil {
		err = c.exec.Do(ctx, "pipeline.CompleteJob", retry.Default, func(ctx context.Context) error {
			return c.reporter.CompleteJob(ctx, job.ID())
		})
	}
	if err == nil {
		c.metrics.JobFinished(job.Type(), "success")
		logger.Info("pipeline job completed")
		return nil
	}

	c.metrics.JobFinished(job.Type(), "failure")
	logger.Error("pipeline job failed", zap.Error(err))
	return errors.Join(err, c.fail(ctx, logger, job, err))
}

// fail reports the job failure and, for build jobs, forces the dapp out of BUILDING_DAPP.
func (c *Completer) fail(ctx context.Context, logger *zap.Logger, job events.PipelineJob, cause error) error {
	var errs []error
	if err := c.FailJob(ctx, job.ID(), cause); err != nil {
		logger.Error("failed to report job failure", zap.Error(err))
		errs = append(errs, err)
	}
	if j, ok := job.(events.BuildJob); ok {
		if err := c.dapps.SetDappFailed(ctx, j.DappName); err != nil {
			logger.Error("failed to mark dapp failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FailJob reports a job failure without touching any dapp; used for jobs whose payload
// could not be decoded.
func (c *Completer) FailJob(ctx context.Context, jobID string, cause error) error {
	return c.exec.Do(ctx, "pipeline.FailJob", retry.Default, func(ctx context.Context) error {
		return c.reporter.FailJob(ctx, jobID, cause)
	})
}

func (c *Completer) postBuild(ctx context.Context, j events.BuildJob) error {
	if err := c.objects.MakeObjectNoCache(ctx, j.DestinationBucket, indexObject); err != nil {
		return fmt.Errorf("disable caching of %s: %w", indexObject, err)
	}
	if err := c.dapps.SetDappAvailable(ctx, j.DappName); err != nil {
		return err
	}

	d, err := c.dapps.GetDapp(ctx, j.DappName)
	if err != nil {
		return err
	}
	if d.DistributionID != "" {
		if err := c.cdn.Invalidate(ctx, d.DistributionID, nil); err != nil {
			return fmt.Errorf("invalidate distribution %s: %w", d.DistributionID, err)
		}
	}

	dnsName := d.DNSName
	if dnsName == "" {
		dnsName = j.DappName + c.dnsRoot
	}
	if err := c.mailer.SendConfirmation(ctx, notify.Confirmation{
		OwnerEmail: j.OwnerEmail,
		DappName:   j.DappName,
		DNSName:    dnsName,
	}); err != nil {
		return fmt.Errorf("send confirmation: %w", err)
	}
	return nil
}

func (c *Completer) invalidate(ctx context.Context, j events.InvalidateJob) error {
	d, err := c.dapps.GetDapp(ctx, j.DappName)
	if err != nil {
		return err
	}
	if d.DistributionID == "" {
		return fmt.Errorf("%w: %s", ErrNoDistribution, j.DappName)
	}
	return c.cdn.Invalidate(ctx, d.DistributionID, j.Paths)
}
