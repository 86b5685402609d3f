package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/inspire-id/idvault/internal/config"
	apperrors "github.com/inspire-id/idvault/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	st, err := New(config.StorageConfig{Driver: config.DriverSQLite, SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func strPtr(s string) *string { return &s }

func TestStore_CreateIdentity(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	ident, created, err := st.CreateIdentity(ctx, "lookup-1", "cipher-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, ident.ID)

	again, created, err := st.CreateIdentity(ctx, "lookup-1", "cipher-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, ident.ID, again.ID)
	assert.Equal(t, "cipher-1", again.EncryptedFingerprint)

	var count int64
	require.NoError(t, st.DB().Model(&Identity{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStore_CreateIdentity_Concurrent(t *testing.T) {
	dir := t.TempDir()
	st, err := New(config.StorageConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(dir, "vault.db")})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	const workers = 8

	var wg sync.WaitGroup
	ids := make([]uint, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ident, _, err := st.CreateIdentity(ctx, "same-lookup", "cipher")
			errs[i] = err
			if ident != nil {
				ids[i] = ident.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, st.DB().Model(&Identity{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestStore_GetIdentityByLookup_NotFound(t *testing.T) {
	st := setupTestStore(t)

	_, err := st.GetIdentityByLookup(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrIdentityNotFound))
}

func TestStore_UpsertDocument_ReplacesSameType(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	ident, _, err := st.CreateIdentity(ctx, "lookup", "cipher")
	require.NoError(t, err)

	first, err := st.UpsertDocument(ctx, &Document{
		IdentityID:          ident.ID,
		DocumentType:        "drivers_license",
		EncryptedDocumentID: "id-1",
		EncryptedMetadata:   strPtr("meta-1"),
	})
	require.NoError(t, err)

	second, err := st.UpsertDocument(ctx, &Document{
		IdentityID:          ident.ID,
		DocumentType:        "drivers_license",
		EncryptedDocumentID: "id-2",
		EncryptedMetadata:   nil,
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "id-2", second.EncryptedDocumentID)
	assert.Nil(t, second.EncryptedMetadata)

	assert.EqualValues(t, 1, countDocuments(t, st, ident.ID, "drivers_license"))
}

func TestStore_UpsertDocument_DistinctTypes(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	ident, _, err := st.CreateIdentity(ctx, "lookup", "cipher")
	require.NoError(t, err)

	for _, typ := range []string{"passport", "drivers_license", "health_card"} {
		_, err := st.UpsertDocument(ctx, &Document{IdentityID: ident.ID, DocumentType: typ, EncryptedDocumentID: typ})
		require.NoError(t, err)
	}

	docs, err := st.ListDocuments(ctx, ident.ID)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "drivers_license", docs[0].DocumentType)
	assert.Equal(t, "health_card", docs[1].DocumentType)
	assert.Equal(t, "passport", docs[2].DocumentType)
}

func TestStore_UpsertDocument_Concurrent(t *testing.T) {
	dir := t.TempDir()
	st, err := New(config.StorageConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(dir, "vault.db")})
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	ident, _, err := st.CreateIdentity(ctx, "lookup", "cipher")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.UpsertDocument(ctx, &Document{
				IdentityID:          ident.ID,
				DocumentType:        "passport",
				EncryptedDocumentID: "x",
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, countDocuments(t, st, ident.ID, "passport"))
}

func TestStore_DeleteIdentity(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	ident, _, err := st.CreateIdentity(ctx, "lookup", "cipher")
	require.NoError(t, err)
	_, err = st.UpsertDocument(ctx, &Document{IdentityID: ident.ID, DocumentType: "passport", EncryptedDocumentID: "x"})
	require.NoError(t, err)

	require.NoError(t, st.DeleteIdentity(ctx, ident.ID))

	_, err = st.GetIdentityByLookup(ctx, "lookup")
	assert.True(t, errors.Is(err, apperrors.ErrIdentityNotFound))

	docs, err := st.ListDocuments(ctx, ident.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)

	err = st.DeleteIdentity(ctx, ident.ID)
	assert.True(t, errors.Is(err, apperrors.ErrIdentityNotFound))
}

func countDocuments(t *testing.T, st *Store, identityID uint, documentType string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, st.db.Model(&Document{}).
		Where("identity_id = ? AND document_type = ?", identityID, documentType).
		Count(&n).Error)
	return n
}
