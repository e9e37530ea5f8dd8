package storage

import (
	"fmt"
	"strings"
)

// ObjectLocation describes where a site object lives.
type ObjectLocation struct {
	Bucket string
	Key    string
}

// ResolveObjectLocation validates a bucket/key pair. Keys are bucket-relative, so a
// leading slash (as written in pipeline parameters and invalidation paths) is dropped.
func ResolveObjectLocation(bucket, key string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("object key is required")
	}
	return ObjectLocation{Bucket: bucket, Key: key}, nil
}
