package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisCache_InvalidURL(t *testing.T) {
	_, err := NewRedisCache(context.Background(), "memcached://localhost", "ocr:")
	assert.ErrorContains(t, err, "invalid redis url")
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// port 1 is reserved and never serves redis
	_, err := NewRedisCache(ctx, "redis://127.0.0.1:1/0", "ocr:")
	assert.ErrorContains(t, err, "redis ping")
}
