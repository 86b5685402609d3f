// Package crypto provides the vault's at-rest encryption and lookup hashing.
//
// Ciphertexts are Fernet tokens (AES-128-CBC with HMAC-SHA256), so any token
// that was produced under a different key or altered in transit fails to
// verify instead of decrypting to garbage.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	apperrors "github.com/inspire-id/idvault/internal/errors"

	"github.com/fernet/fernet-go"
)

// noExpiry disables Fernet's timestamp check; vault entries do not age out.
const noExpiry = -1

// Cipher encrypts and decrypts vault values under one process-wide key.
// It is immutable after construction and safe for concurrent use.
type Cipher struct {
	keys []*fernet.Key
}

// NewCipher builds a Cipher from a url-safe base64 encoded 32-byte key.
func NewCipher(secret string) (*Cipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, apperrors.New(apperrors.ErrInvalidKey.Code, "encryption key is empty")
	}
	key, err := fernet.DecodeKey(secret)
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrInvalidKey, err)
	}
	return &Cipher{keys: []*fernet.Key{key}}, nil
}

// GenerateKey returns a fresh random key in the encoding NewCipher accepts.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return k.Encode(), nil
}

// HashForLookup returns the hex SHA-256 digest of value. It is deterministic and
// used only for equality lookups.
func HashForLookup(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// Encrypt returns the Fernet token for plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.keys[0])
	if err != nil {
		return "", apperrors.WrapAs(apperrors.ErrEncryption, err)
	}
	return string(tok), nil
}

// Decrypt verifies and decrypts token. A token minted under another key, or one
// that was modified, yields ErrDecryption.
func (c *Cipher) Decrypt(token string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(token), noExpiry, c.keys)
	if msg == nil {
		return "", apperrors.ErrDecryption
	}
	return string(msg), nil
}

// EncryptJSON serializes v and encrypts the result. A nil v (including a typed
// nil map, slice or pointer) returns a nil token without touching the cipher.
func (c *Cipher) EncryptJSON(v any) (*string, error) {
	if isNil(v) {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrEncryption, err)
	}
	tok, err := c.Encrypt(string(data))
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

// DecryptJSON decrypts token into out. A nil token leaves out untouched and
// reports ok=false.
func (c *Cipher) DecryptJSON(token *string, out any) (ok bool, err error) {
	if token == nil {
		return false, nil
	}
	plain, err := c.Decrypt(*token)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(plain), out); err != nil {
		return false, apperrors.WrapAs(apperrors.ErrDecryption, err)
	}
	return true, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
