package batch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/inspire-id/idvault/internal/errors"
	"github.com/inspire-id/idvault/internal/extraction"
	"github.com/inspire-id/idvault/internal/store"
	"github.com/inspire-id/idvault/internal/vault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeVault struct {
	mu       sync.Mutex
	known    map[string]bool
	created  []string
	calls    atomic.Int32
	failures int32 // transient failures before success
	hints    []extraction.DocumentType
}

func (f *fakeVault) CreateIdentity(ctx context.Context, fingerprint string) (*store.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[fingerprint] = true
	f.created = append(f.created, fingerprint)
	return &store.Identity{ID: 1}, nil
}

func (f *fakeVault) AddDocument(ctx context.Context, fingerprint string, img extraction.Image, hint extraction.DocumentType) (*vault.AddResult, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	known := f.known[fingerprint]
	f.hints = append(f.hints, hint)
	f.mu.Unlock()

	if !known {
		return nil, apperrors.ErrIdentityNotFound
	}
	if n <= f.failures {
		return nil, apperrors.WrapAs(apperrors.ErrStorage, context.DeadlineExceeded)
	}
	return &vault.AddResult{
		DocumentType: "drivers_license",
		ID:           strings.ToUpper(string(img.Data)),
		Confidence:   0.9,
	}, nil
}

func newFakeVault(known ...string) *fakeVault {
	f := &fakeVault{known: make(map[string]bool)}
	for _, k := range known {
		f.known[k] = true
	}
	return f
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxConcurrency)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
	assert.Equal(t, 2, cfg.RetryCount)
	assert.False(t, cfg.CreateIdentities)
}

func TestNewProcessor_Defaults(t *testing.T) {
	p := NewProcessor(newFakeVault(), Config{}, nil)
	assert.Equal(t, 1, p.config.MaxConcurrency)
	assert.Equal(t, 60*time.Second, p.config.Timeout)
}

func TestLoadManifest_Text(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "manifest.txt", `abc123 licence.jpg drivers_license
# comment

xyz999 /abs/passport.png
lonely
`)

	items, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "line-1", items[0].ID)
	assert.Equal(t, "abc123", items[0].FingerprintHash)
	assert.Equal(t, filepath.Join(dir, "licence.jpg"), items[0].Path)
	assert.Equal(t, "drivers_license", items[0].DocumentType)

	assert.Equal(t, "line-4", items[1].ID)
	assert.Equal(t, "/abs/passport.png", items[1].Path)

	assert.Equal(t, "lonely", items[2].FingerprintHash)
	assert.Empty(t, items[2].Path)
}

func TestLoadManifest_JSON(t *testing.T) {
	dir := t.TempDir()

	arr := writeFile(t, dir, "manifest.json", `[
  {"id": "a", "fingerprint_hash": "abc123", "path": "one.jpg"},
  {"fingerprint_hash": "xyz999", "path": "two.jpg", "document_type": "passport"}
]`)
	items, err := LoadManifest(arr)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "item-2", items[1].ID)
	assert.Equal(t, filepath.Join(dir, "two.jpg"), items[1].Path)

	lines := writeFile(t, dir, "manifest.jsonl", `{"fingerprint_hash": "abc123", "path": "one.jpg"}
{"fingerprint_hash": "xyz999", "path": "two.jpg"}
`)
	items, err = LoadManifest(lines)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	bad := writeFile(t, dir, "bad.json", `[{"id": `)
	_, err = LoadManifest(bad)
	assert.Error(t, err)

	_, err = LoadManifest(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestProcess_Outcomes(t *testing.T) {
	dir := t.TempDir()
	one := writeFile(t, dir, "one.jpg", "dl123")
	two := writeFile(t, dir, "two.jpg", "p456")

	fv := newFakeVault("abc123", "xyz999")
	p := NewProcessor(fv, fastConfig(), zap.NewNop())

	result := p.Process(context.Background(), []InputItem{
		{ID: "ok", FingerprintHash: "abc123", Path: one, DocumentType: "drivers_license"},
		{ID: "no-path", FingerprintHash: "abc123"},
		{ID: "bad-type", FingerprintHash: "abc123", Path: one, DocumentType: "library_card"},
		{ID: "missing-file", FingerprintHash: "abc123", Path: filepath.Join(dir, "nope.jpg")},
		{ID: "unknown-identity", FingerprintHash: "nobody", Path: two},
		{ID: "ok-2", FingerprintHash: "xyz999", Path: two},
	})

	assert.Equal(t, 6, result.Total)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 2, result.Skipped)

	ids := make([]string, len(result.Items))
	for i, item := range result.Items {
		ids[i] = item.ID
	}
	assert.Equal(t, []string{"ok", "no-path", "bad-type", "missing-file", "unknown-identity", "ok-2"}, ids)

	assert.True(t, result.Items[0].Success)
	assert.Equal(t, "DL123", result.Items[0].DocumentID)
	assert.Equal(t, "drivers_license", result.Items[0].DocumentType)
	assert.Equal(t, errSkipped, result.Items[1].Error)
	assert.Contains(t, result.Items[4].Error, "identity not found")

	// identity-not-found is permanent: one call for it, one per success
	assert.Equal(t, int32(3), fv.calls.Load())
	assert.Contains(t, fv.hints, extraction.DocumentTypeDriversLicense)
}

func TestProcess_RetriesTransientErrors(t *testing.T) {
	dir := t.TempDir()
	img := writeFile(t, dir, "one.jpg", "dl123")

	fv := newFakeVault("abc123")
	fv.failures = 2
	p := NewProcessor(fv, fastConfig(), zap.NewNop())

	result := p.Process(context.Background(), []InputItem{{ID: "a", FingerprintHash: "abc123", Path: img}})
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, int32(3), fv.calls.Load())

	fv = newFakeVault("abc123")
	fv.failures = 5
	p = NewProcessor(fv, fastConfig(), zap.NewNop())
	result = p.Process(context.Background(), []InputItem{{ID: "a", FingerprintHash: "abc123", Path: img}})
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, int32(3), fv.calls.Load())
}

func TestProcess_CreateIdentities(t *testing.T) {
	dir := t.TempDir()
	img := writeFile(t, dir, "one.jpg", "dl123")

	fv := newFakeVault()
	cfg := fastConfig()
	cfg.CreateIdentities = true
	p := NewProcessor(fv, cfg, zap.NewNop())

	result := p.Process(context.Background(), []InputItem{{ID: "a", FingerprintHash: "new-user", Path: img}})
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, []string{"new-user"}, fv.created)
}

func TestProcessFile_WritesOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.jpg", "dl123")
	manifest := writeFile(t, dir, "manifest.txt", "abc123 one.jpg\n")

	p := NewProcessor(newFakeVault("abc123"), fastConfig(), zap.NewNop())

	jsonOut := filepath.Join(dir, "out.json")
	result, err := p.ProcessFile(context.Background(), manifest, jsonOut)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)

	data, err := os.ReadFile(jsonOut)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"document_id": "DL123"`)
	assert.NotContains(t, string(data), "abc123")

	textOut := filepath.Join(dir, "out.txt")
	_, err = p.ProcessFile(context.Background(), manifest, textOut)
	require.NoError(t, err)
	data, err = os.ReadFile(textOut)
	require.NoError(t, err)
	assert.Contains(t, string(data), "=== line-1 ===")
	assert.Contains(t, string(data), "drivers_license DL123")
}

func TestResult_Summary(t *testing.T) {
	r := &Result{Total: 10, Success: 7, Failed: 2, Skipped: 1, Duration: 5 * time.Second}
	s := r.Summary()
	for _, want := range []string{"Total:     10", "Success:   7", "Failed:    2", "Skipped:   1", "5s"} {
		assert.Contains(t, s, want)
	}

	js, err := r.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, js, `"total": 10`)
}
