package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
	Close() error
}

// DecisionKey builds the cache key for an access decision on a
// (kind, subject, patient) triple.
func DecisionKey(kind, subjectID, patientID string) string {
	return "authz:" + kind + ":" + subjectID + ":" + patientID
}

// KindPattern matches every cached decision for a link kind; used for bulk
// invalidation after a sweep.
func KindPattern(kind string) string {
	return "authz:" + kind + ":*"
}
