package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemCacheStoreBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemCacheStore(10, time.Hour)

	v, err := s.Get(ctx, "123")
	assert.NoError(err)
	assert.Equal("", v)

	assert.NoError(s.Set(ctx, "123", `{"spam_probability":0.5}`))
	v, err = s.Get(ctx, "123")
	assert.NoError(err)
	assert.Equal(`{"spam_probability":0.5}`, v)

	assert.NoError(s.Purge(ctx, "123"))
	v, err = s.Get(ctx, "123")
	assert.NoError(err)
	assert.Equal("", v)
}

func TestMemCacheStoreTTL(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemCacheStore(10, 50*time.Millisecond)

	assert.NoError(s.Set(ctx, "7", "val"))

	v, err := s.Get(ctx, "7")
	assert.NoError(err)
	assert.Equal("val", v)

	// expired entries read as absent; no active eviction required
	time.Sleep(80 * time.Millisecond)
	v, err = s.Get(ctx, "7")
	assert.NoError(err)
	assert.Equal("", v)
}

func TestMemCacheStoreOverwrite(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemCacheStore(10, time.Hour)

	assert.NoError(s.Set(ctx, "7", "old"))
	assert.NoError(s.Set(ctx, "7", "new"))
	v, err := s.Get(ctx, "7")
	assert.NoError(err)
	assert.Equal("new", v)
}
