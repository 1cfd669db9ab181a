package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/text-extractor-go/internal/cache"
	"github.com/anime-shed/text-extractor-go/internal/logger"
	"github.com/anime-shed/text-extractor-go/internal/normalizer"
)

type cachedAdapter struct {
	Adapter
	store cache.Cache
	ttl   time.Duration
}

// WithCache wraps next so that successful results are served from store for
// identical pixels, backend and length bound. Cache failures are logged and
// never change the result.
func WithCache(next Adapter, store cache.Cache, ttl time.Duration) Adapter {
	return &cachedAdapter{Adapter: next, store: store, ttl: ttl}
}

// CacheKey identifies a recognition request.
func CacheKey(backendName string, img *normalizer.CanonicalImage, maxLength int) string {
	return fmt.Sprintf("%s:%d:%s", backendName, maxLength, img.Fingerprint())
}

type cachedEntry struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Device     string  `json:"device,omitempty"`
}

func (c *cachedAdapter) Recognize(ctx context.Context, img *normalizer.CanonicalImage, maxLength int) (Result, error) {
	if img == nil {
		return Result{}, ErrNilImage
	}
	if !c.Describe().Ready {
		return c.Adapter.Recognize(ctx, img, maxLength)
	}
	start := time.Now()
	key := CacheKey(c.Name(), img, maxLength)
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"backend": c.Name(), "cache_key": key})

	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var entry cachedEntry
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
			log.Debug("Recognition cache hit")
			return Succeeded(c.Name(), entry.Text, entry.Confidence, time.Since(start)).WithDevice(entry.Device), nil
		}
		log.Warn("Discarding malformed cache entry")
	case !errors.Is(err, cache.ErrMiss):
		log.WithError(err).Warn("Recognition cache lookup failed")
	}

	res, err := c.Adapter.Recognize(ctx, img, maxLength)
	if err != nil || res.Outcome != OutcomeSuccess {
		return res, err
	}

	payload, _ := json.Marshal(cachedEntry{Text: res.Text, Confidence: res.Confidence, Device: res.Device})
	if err := c.store.Set(ctx, key, payload, c.ttl); err != nil {
		log.WithError(err).Warn("Recognition cache store failed")
	}
	return res, nil
}

func (c *cachedAdapter) Close() error {
	return errors.Join(c.Adapter.Close(), c.store.Close())
}
