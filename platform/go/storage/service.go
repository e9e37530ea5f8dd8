// Package storage hosts dapp sites in Cloud Storage buckets. Every call goes through the
// retry executor; listing-driven deletes use the fan-out budget.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/iam"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/zenGate-Global/dappbot-ops/platform/go/fanout"
	"github.com/zenGate-Global/dappbot-ops/platform/go/retry"
)

const (
	// NoCacheControl is applied to objects that must always be revalidated, such as index.html.
	NoCacheControl = "max-age=0, no-cache, no-store, must-revalidate"

	publicReadRole iam.RoleName = "roles/storage.objectViewer"
	websiteIndex                = "index.html"
	deleteParallel              = 16
)

// Service wraps a Cloud Storage client.
type Service struct {
	client *storage.Client
	exec   *retry.Executor
	logger *zap.Logger
}

func NewService(client *storage.Client, exec *retry.Executor, logger *zap.Logger) *Service {
	if client == nil {
		panic("storage client is required")
	}
	if exec == nil {
		panic("retry executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, exec: exec, logger: logger}
}

func (s *Service) object(bucket, key string) (*storage.ObjectHandle, error) {
	loc, err := ResolveObjectLocation(bucket, key)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	return s.client.Bucket(loc.Bucket).Object(loc.Key), nil
}

// notFound makes missing objects and buckets final.
func notFound(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return retry.Permanent(err)
	}
	return err
}

func (s *Service) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.object(bucket, key)
	if err != nil {
		return nil, err
	}
	return retry.Value(ctx, s.exec, "storage.GetObject", retry.Default, func(ctx context.Context) ([]byte, error) {
		r, err := obj.NewReader(ctx)
		if err != nil {
			return nil, notFound(err)
		}
		defer r.Close()
		return io.ReadAll(r)
	})
}

func (s *Service) PutObject(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	obj, err := s.object(bucket, key)
	if err != nil {
		return err
	}
	return s.exec.Do(ctx, "storage.PutObject", retry.Default, func(ctx context.Context) error {
		w := obj.NewWriter(ctx)
		w.ContentType = contentType
		if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
}

// DeleteObject removes one object; deleting a missing object succeeds.
func (s *Service) DeleteObject(ctx context.Context, bucket, key string) error {
	obj, err := s.object(bucket, key)
	if err != nil {
		return err
	}
	return s.deleteHandle(ctx, obj, retry.Default)
}

func (s *Service) deleteHandle(ctx context.Context, obj *storage.ObjectHandle, budget int) error {
	err := s.exec.Do(ctx, "storage.DeleteObject", budget, func(ctx context.Context) error {
		return notFound(obj.Delete(ctx))
	})
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// MakeObjectNoCache rewrites the object's cache headers so the CDN always revalidates it.
func (s *Service) MakeObjectNoCache(ctx context.Context, bucket, key string) error {
	obj, err := s.object(bucket, key)
	if err != nil {
		return err
	}
	return s.exec.Do(ctx, "storage.UpdateObject", retry.Default, func(ctx context.Context) error {
		_, err := obj.Update(ctx, storage.ObjectAttrsToUpdate{CacheControl: NoCacheControl})
		return notFound(err)
	})
}

// EmptyBucket deletes every object in bucket and returns the number removed.
func (s *Service) EmptyBucket(ctx context.Context, bucket string) (int, error) {
	b := s.client.Bucket(bucket)

	var names []string
	err := s.exec.Do(ctx, "storage.ListObjects", retry.Default, func(ctx context.Context) error {
		names = names[:0]
		it := b.Objects(ctx, &storage.Query{Projection: storage.ProjectionNoACL})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			if err != nil {
				return notFound(err)
			}
			names = append(names, attrs.Name)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", bucket, err)
	}

	err = fanout.All(ctx, deleteParallel, names, func(ctx context.Context, name string) error {
		return s.deleteHandle(ctx, b.Object(name), retry.FanOut)
	})
	if err != nil {
		return 0, fmt.Errorf("empty %s: %w", bucket, err)
	}
	s.logger.Info("bucket emptied", zap.String("bucket", bucket), zap.Int("objects", len(names)))
	return len(names), nil
}

// DeleteBucket empties and removes bucket.
func (s *Service) DeleteBucket(ctx context.Context, bucket string) error {
	if _, err := s.EmptyBucket(ctx, bucket); err != nil {
		return err
	}
	return s.exec.Do(ctx, "storage.DeleteBucket", retry.Default, func(ctx context.Context) error {
		return notFound(s.client.Bucket(bucket).Delete(ctx))
	})
}

// SetPublicRead grants allUsers read access to the bucket's objects.
func (s *Service) SetPublicRead(ctx context.Context, bucket string) error {
	handle := s.client.Bucket(bucket).IAM()
	return s.exec.Do(ctx, "storage.SetIAMPolicy", retry.Default, func(ctx context.Context) error {
		policy, err := handle.Policy(ctx)
		if err != nil {
			return err
		}
		if policy.HasRole(iam.AllUsers, publicReadRole) {
			return nil
		}
		policy.Add(iam.AllUsers, publicReadRole)
		return handle.SetPolicy(ctx, policy)
	})
}

// ConfigureWebsite serves index.html for the root and for unknown paths, as single page dapps expect.
func (s *Service) ConfigureWebsite(ctx context.Context, bucket string) error {
	return s.updateBucket(ctx, bucket, storage.BucketAttrsToUpdate{Website: websiteConfig()})
}

// EnableCORS allows the dapp's public DNS name to read the bucket from a browser.
func (s *Service) EnableCORS(ctx context.Context, bucket, dnsName string) error {
	return s.updateBucket(ctx, bucket, storage.BucketAttrsToUpdate{CORS: corsFor(dnsName)})
}

// TagBucket applies tags as bucket labels.
func (s *Service) TagBucket(ctx context.Context, bucket string, tags map[string]string) error {
	var attrs storage.BucketAttrsToUpdate
	for k, v := range labelsFor(tags) {
		attrs.SetLabel(k, v)
	}
	return s.updateBucket(ctx, bucket, attrs)
}

func (s *Service) updateBucket(ctx context.Context, bucket string, attrs storage.BucketAttrsToUpdate) error {
	return s.exec.Do(ctx, "storage.UpdateBucket", retry.Default, func(ctx context.Context) error {
		_, err := s.client.Bucket(bucket).Update(ctx, attrs)
		return notFound(err)
	})
}

func websiteConfig() *storage.BucketWebsite {
	return &storage.BucketWebsite{MainPageSuffix: websiteIndex, NotFoundPage: websiteIndex}
}

func corsFor(dnsName string) []storage.CORS {
	return []storage.CORS{{
		Origins:         []string{"https://" + dnsName},
		Methods:         []string{"GET", "HEAD"},
		ResponseHeaders: []string{"Content-Type", "Cache-Control"},
		MaxAge:          time.Hour,
	}}
}

// labelsFor lowercases keys and values and replaces characters labels do not allow.
func labelsFor(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[labelValue(k)] = labelValue(v)
	}
	return out
}

func labelValue(s string) string {
	s = strings.ToLower(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
