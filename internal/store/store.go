package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/inspire-id/idvault/internal/config"
	apperrors "github.com/inspire-id/idvault/internal/errors"

	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const memoryPath = ":memory:"

// Store persists identities and their documents. It only ever sees
// ciphertexts and lookup digests.
type Store struct {
	db     *gorm.DB
	config config.StorageConfig
}

// New opens the configured engine and migrates the schema.
func New(cfg config.StorageConfig) (*Store, error) {
	var (
		db  *gorm.DB
		err error
	)

	gormCfg := &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		db, err = gorm.Open(postgres.Open(cfg.PostgresDSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
	case config.DriverSQLite, "":
		db, err = openSQLite(cfg.SQLitePath, gormCfg)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}

	if err := db.AutoMigrate(&Identity{}, &Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &Store{db: db, config: cfg}, nil
}

func openSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		path = memoryPath
	}

	sqliteDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if path == memoryPath {
		// every connection to :memory: is a separate database
		sqliteDB.SetMaxOpenConns(1)
	} else {
		sqliteDB.SetMaxOpenConns(10)
		sqliteDB.SetMaxIdleConns(5)
		sqliteDB.SetConnMaxLifetime(time.Hour)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqliteDB}, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the GORM database instance
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateIdentity inserts an identity unless one with the same lookup digest
// exists. A concurrent insert losing the race on the unique index is resolved
// by returning the winner's row; created reports which case applied.
func (s *Store) CreateIdentity(ctx context.Context, lookup, encryptedFingerprint string) (identity *Identity, created bool, err error) {
	ident := &Identity{
		LookupFingerprint:    lookup,
		EncryptedFingerprint: encryptedFingerprint,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lookup_fingerprint"}},
			DoNothing: true,
		}).
		Create(ident)
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return nil, false, apperrors.WrapAs(apperrors.ErrStorage, res.Error)
	}
	if res.Error == nil && res.RowsAffected == 1 {
		return ident, true, nil
	}

	existing, err := s.GetIdentityByLookup(ctx, lookup)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetIdentityByLookup finds an identity by its lookup digest.
func (s *Store) GetIdentityByLookup(ctx context.Context, lookup string) (*Identity, error) {
	var ident Identity
	err := s.db.WithContext(ctx).Where("lookup_fingerprint = ?", lookup).First(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrIdentityNotFound
	}
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrStorage, err)
	}
	return &ident, nil
}

// UpsertDocument writes doc, replacing the ciphertexts of any row that already
// exists for (doc.IdentityID, doc.DocumentType). The unique index makes this
// hold under concurrent uploads of the same type.
func (s *Store) UpsertDocument(ctx context.Context, doc *Document) (*Document, error) {
	row := Document{
		IdentityID:          doc.IdentityID,
		DocumentType:        doc.DocumentType,
		EncryptedDocumentID: doc.EncryptedDocumentID,
		EncryptedMetadata:   doc.EncryptedMetadata,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "identity_id"}, {Name: "document_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"encrypted_document_id",
				"encrypted_metadata",
				"updated_at",
			}),
		}).
		Create(&row).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return nil, apperrors.ErrIdentityNotFound
	}
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrStorage, err)
	}

	var committed Document
	err = s.db.WithContext(ctx).
		Where("identity_id = ? AND document_type = ?", doc.IdentityID, doc.DocumentType).
		First(&committed).Error
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrStorage, err)
	}
	return &committed, nil
}

// ListDocuments returns every document owned by identityID, ordered by type.
func (s *Store) ListDocuments(ctx context.Context, identityID uint) ([]Document, error) {
	var docs []Document
	err := s.db.WithContext(ctx).
		Where("identity_id = ?", identityID).
		Order("document_type ASC").
		Find(&docs).Error
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrStorage, err)
	}
	return docs, nil
}

// DeleteIdentity removes an identity and its documents in one transaction.
// Documents are deleted explicitly so the cascade does not depend on engine
// foreign key support.
func (s *Store) DeleteIdentity(ctx context.Context, identityID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("identity_id = ?", identityID).Delete(&Document{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&Identity{}, identityID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrIdentityNotFound
		}
		return nil
	})
	if err == nil || errors.Is(err, apperrors.ErrIdentityNotFound) {
		return err
	}
	return apperrors.WrapAs(apperrors.ErrStorage, err)
}
