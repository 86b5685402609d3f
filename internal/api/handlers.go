package api

import (
	"context"
	"io"
	"strings"
	"time"

	apperrors "github.com/inspire-id/idvault/internal/errors"
	"github.com/inspire-id/idvault/internal/extraction"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := "healthy"
	code := fiber.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"version":   Version,
		"backend":   s.config.Extraction.Backend,
		"timestamp": time.Now().Unix(),
		"metrics":   s.metrics.Snapshot(),
	})
}

// parseFingerprint reads fingerprint_hash from a JSON body.
func parseFingerprint(c *fiber.Ctx) (string, error) {
	var req fingerprintRequest
	if err := c.BodyParser(&req); err != nil {
		return "", apperrors.New(apperrors.ErrBadRequest.Code, "invalid request body")
	}
	fp := strings.TrimSpace(req.FingerprintHash)
	if fp == "" {
		return "", apperrors.New(apperrors.ErrBadRequest.Code, "fingerprint_hash is required")
	}
	return fp, nil
}

func (s *Server) handleCreateIdentity(c *fiber.Ctx) error {
	fp, err := parseFingerprint(c)
	if err != nil {
		return err
	}
	if _, err := s.vault.CreateIdentity(c.UserContext(), fp); err != nil {
		return err
	}
	return c.JSON(createIdentityResponse{FingerprintHash: fp})
}

func (s *Server) handleRetrieve(c *fiber.Ctx) error {
	fp, err := parseFingerprint(c)
	if err != nil {
		return err
	}
	contents, err := s.vault.Retrieve(c.UserContext(), fp)
	if err != nil {
		return err
	}
	return c.JSON(retrieveResponse{FingerprintHash: fp, Documents: contents.Documents})
}

func (s *Server) handleDeleteIdentity(c *fiber.Ctx) error {
	fp, err := parseFingerprint(c)
	if err != nil {
		return err
	}
	if err := s.vault.DeleteIdentity(c.UserContext(), fp); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleAddDocument(c *fiber.Ctx) error {
	fp := strings.TrimSpace(c.FormValue("fingerprint_hash"))
	if fp == "" {
		return apperrors.New(apperrors.ErrBadRequest.Code, "fingerprint_hash is required")
	}

	file, err := c.FormFile("image")
	if err != nil {
		return apperrors.New(apperrors.ErrBadRequest.Code, "image file is required")
	}
	f, err := file.Open()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrBadRequest.Code, "unreadable image upload")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrBadRequest.Code, "unreadable image upload")
	}

	var hint extraction.DocumentType
	if raw := c.FormValue("document_type"); strings.TrimSpace(raw) != "" {
		t, ok := extraction.ParseDocumentType(raw)
		if !ok {
			return apperrors.New(apperrors.ErrBadRequest.Code, "unsupported document_type: "+raw)
		}
		hint = t
	}

	s.logger.Info("Add document",
		zap.String("filename", file.Filename),
		zap.String("content_type", file.Header.Get(fiber.HeaderContentType)),
		zap.Int("bytes", len(data)),
		zap.String("hint", string(hint)),
	)

	res, err := s.vault.AddDocument(c.UserContext(), fp, extraction.Image{
		Data:     data,
		MimeType: file.Header.Get(fiber.HeaderContentType),
		Filename: file.Filename,
	}, hint)
	if err != nil {
		return err
	}

	return c.JSON(addDocumentResponse{
		FingerprintHash: fp,
		DocumentType:    res.DocumentType,
		ID:              res.ID,
		Metadata:        res.Metadata,
		Confidence:      res.Confidence,
	})
}
