// Package cachestore provides the score cache used by the moderation client:
// a read-through, TTL-bounded string store keyed by identity ID. Values are
// JSON-marshaled score sets; an expired or missing entry reads as "".
package cachestore

import (
	"context"
)

type CacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, val string) error
	Purge(ctx context.Context, key string) error
}
