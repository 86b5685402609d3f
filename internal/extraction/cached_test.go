package extraction

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/inspire-id/idvault/internal/cache"
	"github.com/inspire-id/idvault/internal/crypto"
	"github.com/inspire-id/idvault/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExtractor struct {
	calls atomic.Int32
	rec   Record
	delay time.Duration
}

// Extract behaves like the orchestrator under a cancelled context: the
// vendor call fails and the reading comes back as an ERROR record.
func (c *countingExtractor) Extract(ctx context.Context, img Image, hint DocumentType) (Record, error) {
	c.calls.Add(1)
	select {
	case <-ctx.Done():
		return Record{DocumentType: DocumentTypeUnknown, DocumentID: IDError, Fields: map[string]any{}}, nil
	case <-time.After(c.delay):
	}
	return cloneRecord(c.rec), nil
}

func newCached(t *testing.T, next Extractor) (*CachedExtractor, *metrics.Metrics) {
	t.Helper()
	c, err := cache.Open("", time.Hour, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cipher, err := crypto.NewCipher(key)
	require.NoError(t, err)

	m := metrics.New()
	return NewCachedExtractor(next, c, cipher, m, nil), m
}

func TestCachedExtractor_HitAfterMiss(t *testing.T) {
	next := &countingExtractor{rec: Record{
		DocumentType: DocumentTypeDriversLicense,
		DocumentID:   "01944956",
		Fields:       map[string]any{FieldFirstName: "ROBERT", FieldHasPortrait: true},
		Confidence:   0.9,
		Method:       MethodLLM,
	}}
	ce, m := newCached(t, next)
	img := Image{Data: []byte("image-bytes")}

	first, err := ce.Extract(context.Background(), img, DocumentTypeUnknown)
	require.NoError(t, err)
	second, err := ce.Extract(context.Background(), img, DocumentTypeUnknown)
	require.NoError(t, err)

	assert.EqualValues(t, 1, next.calls.Load())
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))

	// a different hint is a different key
	_, err = ce.Extract(context.Background(), img, DocumentTypePassport)
	require.NoError(t, err)
	assert.EqualValues(t, 2, next.calls.Load())
}

func TestCachedExtractor_ErrorsAreNotCached(t *testing.T) {
	next := &countingExtractor{rec: Record{DocumentType: DocumentTypeUnknown, DocumentID: IDError, Fields: map[string]any{}}}
	ce, _ := newCached(t, next)
	img := Image{Data: []byte("image-bytes")}

	for i := 0; i < 2; i++ {
		_, err := ce.Extract(context.Background(), img, "")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, next.calls.Load())
}

func TestCachedExtractor_ParseErrorsAreNotCached(t *testing.T) {
	next := &countingExtractor{rec: Record{DocumentType: DocumentTypeUnknown, DocumentID: IDParseError, Fields: map[string]any{}}}
	ce, _ := newCached(t, next)
	img := Image{Data: []byte("image-bytes")}

	for i := 0; i < 2; i++ {
		rec, err := ce.Extract(context.Background(), img, "")
		require.NoError(t, err)
		assert.Equal(t, IDParseError, rec.DocumentID)
	}
	assert.EqualValues(t, 2, next.calls.Load())
}

func TestCachedExtractor_DegradedReadingsAreNotCached(t *testing.T) {
	next := &countingExtractor{rec: Record{
		DocumentType: DocumentTypeDriversLicense,
		DocumentID:   IDUnknown,
		Fields:       map[string]any{},
		Method:       MethodNone,
		Degraded:     true,
	}}
	ce, m := newCached(t, next)
	img := Image{Data: []byte("image-bytes")}

	for i := 0; i < 2; i++ {
		_, err := ce.Extract(context.Background(), img, DocumentTypeDriversLicense)
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, next.calls.Load())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
}

func TestCachedExtractor_CancelledCallerDoesNotFailWaiters(t *testing.T) {
	next := &countingExtractor{
		rec:   Record{DocumentType: DocumentTypePassport, DocumentID: "AB123456", Fields: map[string]any{}},
		delay: 200 * time.Millisecond,
	}
	ce, _ := newCached(t, next)
	img := Image{Data: []byte("same image")}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	first := make(chan error, 1)
	go func() {
		_, err := ce.Extract(ctx, img, "")
		first <- err
	}()
	time.Sleep(10 * time.Millisecond)

	rec, err := ce.Extract(context.Background(), img, "")
	require.NoError(t, err)
	assert.Equal(t, "AB123456", rec.DocumentID)
	assert.ErrorIs(t, <-first, context.DeadlineExceeded)

	// the completed reading is cached for later uploads
	_, err = ce.Extract(context.Background(), img, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, next.calls.Load())
}

func TestCachedExtractor_ConcurrentCallsShareOneRun(t *testing.T) {
	next := &countingExtractor{
		rec:   Record{DocumentType: DocumentTypePassport, DocumentID: "AB123456", Fields: map[string]any{}},
		delay: 200 * time.Millisecond,
	}
	ce, _ := newCached(t, next)
	img := Image{Data: []byte("same image")}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := ce.Extract(context.Background(), img, "")
			assert.NoError(t, err)
			assert.Equal(t, "AB123456", rec.DocumentID)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, next.calls.Load())
}

func TestCacheKey(t *testing.T) {
	img := Image{Data: []byte("abc")}
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad:passport",
		CacheKey(img, DocumentTypePassport))
}
