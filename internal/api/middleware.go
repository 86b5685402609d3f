package api

import (
	"crypto/subtle"
	"errors"
	"strings"

	apperrors "github.com/inspire-id/idvault/internal/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const localsSubject = "subject"

// authMiddleware admits a request carrying either a static API key
// (X-API-Key or Bearer) or an HS256 JWT signed with the configured secret.
func (s *Server) authMiddleware() fiber.Handler {
	sec := s.config.Security
	return func(c *fiber.Ctx) error {
		if sec.AuthDisabled {
			return c.Next()
		}

		if key := c.Get("X-API-Key"); key != "" {
			if s.validAPIKey(key) {
				c.Locals(localsSubject, "api-key")
				return c.Next()
			}
			return unauthorized(c, "invalid api key")
		}

		auth := c.Get(fiber.HeaderAuthorization)
		if auth == "" {
			return unauthorized(c, "missing authorization header")
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

		if s.validAPIKey(tokenString) {
			c.Locals(localsSubject, "api-key")
			return c.Next()
		}
		if sec.JWTSecret == "" {
			return unauthorized(c, "invalid token")
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(sec.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			s.logger.Debug("Rejected token", zap.Error(err))
			return unauthorized(c, "invalid token")
		}

		if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
			c.Locals(localsSubject, sub)
		}
		return c.Next()
	}
}

func (s *Server) validAPIKey(key string) bool {
	for _, k := range s.config.Security.APIKeys {
		if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: msg, Code: apperrors.ErrUnauthorized.Code})
}

// errorHandler maps errors that escape a handler onto JSON responses.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(errorResponse{Error: fe.Message})
		}
		status, body := mapError(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}
		return c.Status(status).JSON(body)
	}
}

// mapError translates domain errors into an HTTP status and body.
func mapError(err error) (int, errorResponse) {
	code := apperrors.GetCode(err)
	switch {
	case errors.Is(err, apperrors.ErrBadRequest), errors.Is(err, apperrors.ErrInvalidImage):
		return fiber.StatusUnprocessableEntity, errorResponse{Error: messageOf(err), Code: code}
	case errors.Is(err, apperrors.ErrIdentityNotFound):
		return fiber.StatusNotFound, errorResponse{Error: "identity not found", Code: code}
	case errors.Is(err, apperrors.ErrDecryption):
		return fiber.StatusInternalServerError, errorResponse{Error: "vault integrity error", Code: code}
	case errors.Is(err, apperrors.ErrBackendNotConfigured):
		return fiber.StatusServiceUnavailable, errorResponse{Error: "extraction backend not configured", Code: code}
	case errors.Is(err, apperrors.ErrUnauthorized):
		return fiber.StatusUnauthorized, errorResponse{Error: "unauthorized", Code: code}
	}
	return fiber.StatusInternalServerError, errorResponse{Error: "internal error", Code: apperrors.ErrInternal.Code}
}

func messageOf(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
