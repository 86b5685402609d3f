package store

import (
	"time"
)

// Identity is one registered fingerprint. The raw fingerprint is never stored
// in plaintext: LookupFingerprint is its SHA-256 hex digest and
// EncryptedFingerprint its Fernet token.
type Identity struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	LookupFingerprint    string    `gorm:"size:64;not null;uniqueIndex" json:"-"`
	EncryptedFingerprint string    `gorm:"type:text;not null" json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`

	Documents []Document `gorm:"foreignKey:IdentityID;constraint:OnDelete:CASCADE" json:"documents,omitempty"`
}

// Document holds at most one extracted record per (identity, document type).
type Document struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	IdentityID          uint      `gorm:"not null;uniqueIndex:idx_identity_document_type" json:"identity_id"`
	DocumentType        string    `gorm:"size:64;not null;uniqueIndex:idx_identity_document_type" json:"document_type"`
	EncryptedDocumentID string    `gorm:"type:text;not null" json:"-"`
	EncryptedMetadata   *string   `gorm:"type:text" json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
