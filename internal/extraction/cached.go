package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/inspire-id/idvault/internal/cache"
	"github.com/inspire-id/idvault/internal/crypto"
	"github.com/inspire-id/idvault/internal/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedExtractor memoizes extraction results by image content and hint.
// Entries are encrypted with the vault cipher. Concurrent extractions of the
// same key share one run of the wrapped extractor.
type CachedExtractor struct {
	next    Extractor
	cache   *cache.Cache
	cipher  *crypto.Cipher
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCachedExtractor wraps next.
func NewCachedExtractor(next Extractor, c *cache.Cache, cipher *crypto.Cipher, m *metrics.Metrics, logger *zap.Logger) *CachedExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedExtractor{next: next, cache: c, cipher: cipher, metrics: m, logger: logger}
}

// CacheKey derives the cache key for an image and hint.
func CacheKey(img Image, hint DocumentType) string {
	sum := sha256.Sum256(img.Data)
	return hex.EncodeToString(sum[:]) + ":" + string(hint)
}

// Extract implements Extractor.
func (c *CachedExtractor) Extract(ctx context.Context, img Image, hint DocumentType) (Record, error) {
	key := CacheKey(img, hint)

	if rec, ok := c.lookup(key); ok {
		return rec, nil
	}

	// The shared run outlives any one caller, so a caller that gives up
	// does not fail the others waiting on the same key.
	ch := c.group.DoChan(key, func() (any, error) {
		rec, err := c.next.Extract(context.WithoutCancel(ctx), img, hint)
		if err != nil {
			return Record{}, err
		}
		if cacheable(rec) {
			c.store(key, rec)
		}
		return rec, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return Record{}, res.Err
	}
	rec := res.Val.(Record)
	if res.Shared {
		rec = cloneRecord(rec)
	}
	return rec, nil
}

func (c *CachedExtractor) lookup(key string) (Record, bool) {
	raw, ok, err := c.cache.Get(key)
	if err != nil {
		c.metrics.RecordCacheLookup("error")
		c.logger.Warn("Cache read failed", zap.Error(err))
		return Record{}, false
	}
	if !ok {
		c.metrics.RecordCacheLookup("miss")
		return Record{}, false
	}

	token := string(raw)
	var rec Record
	if _, err := c.cipher.DecryptJSON(&token, &rec); err != nil {
		// stale entry from a rotated key
		c.metrics.RecordCacheLookup("error")
		c.logger.Warn("Dropping undecryptable cache entry", zap.Error(err))
		_ = c.cache.Delete(key)
		return Record{}, false
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	c.metrics.RecordCacheLookup("hit")
	return rec, true
}

func (c *CachedExtractor) store(key string, rec Record) {
	token, err := c.cipher.EncryptJSON(rec)
	if err != nil || token == nil {
		c.logger.Warn("Cache encode failed", zap.Error(err))
		return
	}
	if err := c.cache.Set(key, []byte(*token)); err != nil {
		c.logger.Warn("Cache write failed", zap.Error(err))
	}
}

// cloneRecord gives each singleflight waiter its own field map.
// cacheable reports whether rec would come out the same on a retry.
func cacheable(rec Record) bool {
	return !rec.Failed() && !rec.Degraded
}

func cloneRecord(rec Record) Record {
	fields := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		fields[k] = v
	}
	rec.Fields = fields
	return rec
}
