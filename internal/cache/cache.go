// Package cache provides the shared cache behind the translation fanout.
// Entries are JSON documents keyed by a hash of the source utterance, so
// identical utterances translated on different instances hit each other's
// results.
package cache

import (
	"context"
	"time"
)

type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
