package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so wrapped instances of a
// sentinel still satisfy errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrEncryption = &AppError{Code: "CRYPTO_001", Message: "encryption failed"}
	ErrDecryption = &AppError{Code: "CRYPTO_002", Message: "invalid token (wrong key or corrupted data)"}
	ErrInvalidKey = &AppError{Code: "CRYPTO_003", Message: "invalid encryption key"}

	ErrBackendNotConfigured = &AppError{Code: "EXTRACT_001", Message: "extraction backend not configured"}
	ErrBackendFailed        = &AppError{Code: "EXTRACT_002", Message: "extraction backend failed"}
	ErrParseFailed          = &AppError{Code: "EXTRACT_003", Message: "could not parse model output"}
	ErrInvalidImage         = &AppError{Code: "EXTRACT_004", Message: "invalid image"}

	ErrIdentityNotFound = &AppError{Code: "VAULT_001", Message: "identity not found"}
	ErrStorage          = &AppError{Code: "VAULT_002", Message: "vault storage failure"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}

	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapAs wraps err under the code and message of a predefined sentinel.
func WrapAs(sentinel *AppError, err error) *AppError {
	return Wrap(err, sentinel.Code, sentinel.Message)
}
