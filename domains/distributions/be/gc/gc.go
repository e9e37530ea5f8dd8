// Package gc deletes CDN distributions that were disabled by the dapp teardown and are no
// longer referenced. Only distributions carrying both ownership tags are touched; the CDN
// account is shared with infrastructure this worker does not own.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/zenGate-Global/dappbot-ops/platform/go/fanout"
	"github.com/zenGate-Global/dappbot-ops/platform/go/metrics"
	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

// ErrMissingETag is returned when a distribution config comes back without its concurrency token.
var ErrMissingETag = errors.New("distribution config has no etag")

// StatusDeployed is the only status a distribution may be deleted from.
const StatusDeployed = "Deployed"

// Ownership tags. Both must be present exactly once.
const (
	TagApplication = "Application"
	TagManagedBy   = "ManagedBy"
	OwnerTagValue  = "DappBot"
)

// Distribution is one listed CDN distribution.
type Distribution struct {
	ID         string
	ARN        string
	DomainName string
	Enabled    bool
	Status     string
}

// Page is one page of a distribution listing. An empty NextMarker ends the listing.
type Page struct {
	Items      []Distribution
	NextMarker string
}

type Tag struct {
	Key   string
	Value string
}

// CDN is the distribution service.
type CDN interface {
	ListDistributions(ctx context.Context, marker string) (Page, error)
	// GetDistributionETag returns the concurrency token required to delete id.
	GetDistributionETag(ctx context.Context, id string) (string, error)
	DeleteDistribution(ctx context.Context, id, etag string) error
	ListTags(ctx context.Context, arn string) ([]Tag, error)
	CreateInvalidation(ctx context.Context, id string, paths []string) (string, error)
}

// Report summarises one collection run.
type Report struct {
	Candidates int
	Eligible   []string
	Deleted    []string
	Failed     map[string]error
}

// Collector finds and deletes orphaned distributions.
type Collector struct {
	cdn     CDN
	exec    *retry.Executor
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewCollector(cdn CDN, exec *retry.Executor, m *metrics.Metrics, logger *zap.Logger) *Collector {
	if exec == nil {
		panic("retry executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{cdn: cdn, exec: exec, metrics: m, logger: logger}
}

// Run performs one collection. Only a failed listing is returned as an error; individual
// deletion failures are logged and reported without affecting the other distributions.
func (c *Collector) Run(ctx context.Context) (Report, error) {
	candidates, err := c.disabledDistributions(ctx)
	if err != nil {
		return Report{}, err
	}
	c.logger.Info("found disabled distributions", zap.Int("count", len(candidates)))

	eligible := c.eligible(ctx, candidates)
	c.logger.Info("found distributions for cleanup", zap.Int("count", len(eligible)))

	report := Report{Candidates: len(candidates), Eligible: eligible, Failed: make(map[string]error)}
	errs := fanout.Each(ctx, 0, eligible, c.delete)
	for i, id := range eligible {
		if errs[i] != nil {
			report.Failed[id] = errs[i]
			c.metrics.DistributionFailed()
			continue
		}
		report.Deleted = append(report.Deleted, id)
		c.metrics.DistributionDeleted()
	}

	if len(report.Failed) > 0 {
		c.logger.Warn("some distributions could not be deleted",
			zap.Int("deleted", len(report.Deleted)),
			zap.Int("failed", len(report.Failed)),
		)
	} else {
		c.logger.Info("all distributions cleaned up", zap.Int("deleted", len(report.Deleted)))
	}
	return report, nil
}

// disabledDistributions pages through every distribution keeping the disabled, settled ones.
func (c *Collector) disabledDistributions(ctx context.Context) ([]Distribution, error) {
	var out []Distribution
	marker := ""
	for {
		page, err := retry.Value(ctx, c.exec, "cdn.ListDistributions", retry.Default, func(ctx context.Context) (Page, error) {
			return c.cdn.ListDistributions(ctx, marker)
		})
		if err != nil {
			return nil, fmt.Errorf("list distributions: %w", err)
		}
		for _, d := range page.Items {
			if !d.Enabled && d.Status == StatusDeployed {
				out = append(out, d)
			}
		}
		if page.NextMarker == "" || page.NextMarker == marker {
			return out, nil
		}
		marker = page.NextMarker
	}
}

// eligible fetches tags for every candidate concurrently. A failed fetch counts as no tags.
func (c *Collector) eligible(ctx context.Context, candidates []Distribution) []string {
	var (
		mu  sync.Mutex
		ids []string
	)
	fanout.Each(ctx, 0, candidates, func(ctx context.Context, d Distribution) error {
		tags, err := retry.Value(ctx, c.exec, "cdn.ListTags", retry.FanOut, func(ctx context.Context) ([]Tag, error) {
			return c.cdn.ListTags(ctx, d.ARN)
		})
		if err != nil {
			c.logger.Warn("tag lookup failed, treating distribution as untagged",
				zap.String("distribution_id", d.ID),
				zap.Error(err),
			)
			tags = nil
		}
		if !Owned(tags) {
			return nil
		}
		mu.Lock()
		ids = append(ids, d.ID)
		mu.Unlock()
		return nil
	})
	sort.Strings(ids)
	return ids
}

// Owned reports whether tags carry Application=DappBot and ManagedBy=DappBot exactly once each.
func Owned(tags []Tag) bool {
	var application, managedBy int
	for _, t := range tags {
		if t.Value != OwnerTagValue {
			continue
		}
		switch t.Key {
		case TagApplication:
			application++
		case TagManagedBy:
			managedBy++
		}
	}
	return application == 1 && managedBy == 1
}

func (c *Collector) delete(ctx context.Context, id string) error {
	logger := c.logger.With(zap.String("distribution_id", id))

	etag, err := retry.Value(ctx, c.exec, "cdn.GetDistributionConfig", retry.FanOut, func(ctx context.Context) (string, error) {
		return c.cdn.GetDistributionETag(ctx, id)
	})
	if err == nil && etag == "" {
		err = ErrMissingETag
	}
	if err != nil {
		logger.Error("fetching distribution etag failed", zap.Error(err))
		return fmt.Errorf("get config of %s: %w", id, err)
	}

	err = c.exec.Do(ctx, "cdn.DeleteDistribution", retry.FanOut, func(ctx context.Context) error {
		return c.cdn.DeleteDistribution(ctx, id, etag)
	})
	if err != nil {
		logger.Error("deleting distribution failed", zap.Error(err))
		return fmt.Errorf("delete %s: %w", id, err)
	}
	logger.Info("distribution deleted")
	return nil
}

// Invalidate flushes paths (everything when empty) from the distribution's cache.
func (c *Collector) Invalidate(ctx context.Context, distributionID string, paths []string) error {
	if len(paths) == 0 {
		paths = []string{"/*"}
	}
	id, err := retry.Value(ctx, c.exec, "cdn.CreateInvalidation", retry.Default, func(ctx context.Context) (string, error) {
		return c.cdn.CreateInvalidation(ctx, distributionID, paths)
	})
	if err != nil {
		return err
	}
	c.logger.Info("invalidation created",
		zap.String("distribution_id", distributionID),
		zap.String("invalidation_id", id),
		zap.Strings("paths", paths),
	)
	return nil
}
