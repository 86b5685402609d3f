// Package vault stores extracted identity documents encrypted at rest under a
// fingerprint-keyed identity. Lookups use the fingerprint's one-way hash; the
// raw value is only ever stored as ciphertext.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inspire-id/idvault/internal/crypto"
	apperrors "github.com/inspire-id/idvault/internal/errors"
	"github.com/inspire-id/idvault/internal/extraction"
	"github.com/inspire-id/idvault/internal/metrics"
	"github.com/inspire-id/idvault/internal/redact"
	"github.com/inspire-id/idvault/internal/store"

	"go.uber.org/zap"
)

// Service implements the vault operations
type Service struct {
	store     *store.Store
	cipher    *crypto.Cipher
	extractor extraction.Extractor
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a vault service. extractor may be nil, in which case
// AddDocument reports the extraction backend as not configured.
func New(st *store.Store, cipher *crypto.Cipher, extractor extraction.Extractor, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     st,
		cipher:    cipher,
		extractor: extractor,
		metrics:   m,
		logger:    logger,
	}
}

// DocumentEntry is one decrypted, redacted document
type DocumentEntry struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
}

// Contents is everything stored for an identity, keyed by document type
type Contents struct {
	Documents map[string]DocumentEntry `json:"documents"`
}

// AddResult describes a stored extraction
type AddResult struct {
	DocumentType string         `json:"document_type"`
	ID           string         `json:"id"`
	Metadata     map[string]any `json:"metadata"`
	Confidence   float64        `json:"confidence"`
}

// fingerprintTag is the log-safe prefix of a lookup hash.
func fingerprintTag(lookup string) zap.Field {
	if len(lookup) > 8 {
		lookup = lookup[:8]
	}
	return zap.String("fingerprint", lookup)
}

func lookupFor(fingerprint string) (string, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return "", apperrors.New(apperrors.ErrBadRequest.Code, "fingerprint is required")
	}
	return crypto.HashForLookup(fingerprint), nil
}

// CreateIdentity registers a fingerprint. It is idempotent: an existing
// identity is returned unchanged, including when a concurrent caller won the
// insert.
func (s *Service) CreateIdentity(ctx context.Context, fingerprint string) (ident *store.Identity, err error) {
	defer func() { s.metrics.RecordVaultOp("create_identity", err) }()

	lookup, err := lookupFor(fingerprint)
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.GetIdentityByLookup(ctx, lookup); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperrors.ErrIdentityNotFound) {
		return nil, err
	}

	encrypted, err := s.cipher.Encrypt(fingerprint)
	if err != nil {
		return nil, err
	}
	ident, created, err := s.store.CreateIdentity(ctx, lookup, encrypted)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("Identity created", fingerprintTag(lookup))
	}
	return ident, nil
}

// GetIdentity finds an identity by fingerprint without decrypting anything.
// It returns ErrIdentityNotFound when none exists.
func (s *Service) GetIdentity(ctx context.Context, fingerprint string) (*store.Identity, error) {
	lookup, err := lookupFor(fingerprint)
	if err != nil {
		return nil, err
	}
	return s.store.GetIdentityByLookup(ctx, lookup)
}

// UpsertDocument encrypts and stores a document, replacing any document of
// the same type already held for the identity.
func (s *Service) UpsertDocument(ctx context.Context, ident *store.Identity, documentType, documentID string, fields map[string]any) (doc *store.Document, err error) {
	defer func() { s.metrics.RecordVaultOp("upsert_document", err) }()

	if ident == nil || ident.ID == 0 {
		return nil, apperrors.ErrIdentityNotFound
	}
	if documentType == "" {
		documentType = string(extraction.DocumentTypeUnknown)
	}

	encID, err := s.cipher.Encrypt(documentID)
	if err != nil {
		return nil, err
	}
	var encMeta *string
	if len(fields) > 0 {
		if encMeta, err = s.cipher.EncryptJSON(fields); err != nil {
			return nil, err
		}
	}

	doc, err = s.store.UpsertDocument(ctx, &store.Document{
		IdentityID:          ident.ID,
		DocumentType:        documentType,
		EncryptedDocumentID: encID,
		EncryptedMetadata:   encMeta,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Document stored",
		fingerprintTag(ident.LookupFingerprint),
		zap.String("document_type", documentType),
	)
	return doc, nil
}

// Retrieve decrypts every document held for fingerprint. It returns
// ErrIdentityNotFound for an unknown fingerprint and an empty documents map
// for an identity with no uploads. A document that fails to decrypt fails the
// whole call with ErrDecryption.
func (s *Service) Retrieve(ctx context.Context, fingerprint string) (contents *Contents, err error) {
	defer func() { s.metrics.RecordVaultOp("retrieve", err) }()

	ident, err := s.GetIdentity(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, ident.ID)
	if err != nil {
		return nil, err
	}

	contents = &Contents{Documents: make(map[string]DocumentEntry, len(docs))}
	for _, d := range docs {
		id, err := s.cipher.Decrypt(d.EncryptedDocumentID)
		if err != nil {
			s.logIntegrityError(ident, d, err)
			return nil, apperrors.WrapAs(apperrors.ErrDecryption, fmt.Errorf("document %s id: %w", d.DocumentType, err))
		}
		var fields map[string]any
		if _, err := s.cipher.DecryptJSON(d.EncryptedMetadata, &fields); err != nil {
			s.logIntegrityError(ident, d, err)
			return nil, apperrors.WrapAs(apperrors.ErrDecryption, fmt.Errorf("document %s metadata: %w", d.DocumentType, err))
		}
		contents.Documents[d.DocumentType] = DocumentEntry{ID: id, Metadata: redact.Fields(fields)}
	}
	return contents, nil
}

func (s *Service) logIntegrityError(ident *store.Identity, d store.Document, err error) {
	s.logger.Error("Vault integrity error",
		fingerprintTag(ident.LookupFingerprint),
		zap.String("document_type", d.DocumentType),
		zap.Error(err),
	)
}

// AddDocument extracts a record from img and stores it under the identity.
// The identity must already exist; no extraction is attempted otherwise.
// When extraction cannot tell the document type, the hint is used.
func (s *Service) AddDocument(ctx context.Context, fingerprint string, img extraction.Image, hint extraction.DocumentType) (result *AddResult, err error) {
	defer func() { s.metrics.RecordVaultOp("add_document", err) }()

	ident, err := s.GetIdentity(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if s.extractor == nil {
		return nil, apperrors.New(apperrors.ErrBackendNotConfigured.Code, "no extraction backend configured")
	}

	start := time.Now()
	rec, err := s.extractor.Extract(ctx, img, hint)
	if err != nil {
		return nil, err
	}

	docType := rec.DocumentType
	if !docType.Known() && hint.Known() {
		docType = hint
	}

	if _, err := s.UpsertDocument(ctx, ident, string(docType), rec.DocumentID, rec.Fields); err != nil {
		return nil, err
	}

	s.logger.Info("Document added",
		fingerprintTag(ident.LookupFingerprint),
		zap.String("document_type", string(docType)),
		zap.String("method", string(rec.Method)),
		zap.Float64("confidence", rec.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &AddResult{
		DocumentType: string(docType),
		ID:           rec.DocumentID,
		Metadata:     redact.Fields(rec.Fields),
		Confidence:   rec.Confidence,
	}, nil
}

// DeleteIdentity removes an identity and all of its documents.
func (s *Service) DeleteIdentity(ctx context.Context, fingerprint string) (err error) {
	defer func() { s.metrics.RecordVaultOp("delete_identity", err) }()

	ident, err := s.GetIdentity(ctx, fingerprint)
	if err != nil {
		return err
	}
	if err := s.store.DeleteIdentity(ctx, ident.ID); err != nil {
		return err
	}
	s.logger.Info("Identity deleted", fingerprintTag(ident.LookupFingerprint))
	return nil
}
