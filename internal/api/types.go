package api

import (
	"time"

	"github.com/inspire-id/idvault/internal/config"
	"github.com/inspire-id/idvault/internal/metrics"
	"github.com/inspire-id/idvault/internal/store"
	"github.com/inspire-id/idvault/internal/vault"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Server serves the vault over HTTP
type Server struct {
	app     *fiber.App
	config  *config.Config
	vault   *vault.Service
	store   *store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates the HTTP server and registers its routes.
func New(cfg *config.Config, svc *vault.Service, st *store.Store, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	bodyLimit := cfg.Server.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 20
	}

	app := fiber.New(fiber.Config{
		AppName:               "idvault",
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		BodyLimit:             bodyLimit << 20,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	s := &Server{
		app:     app,
		config:  cfg,
		vault:   svc,
		store:   st,
		metrics: m,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

type fingerprintRequest struct {
	FingerprintHash string `json:"fingerprint_hash" form:"fingerprint_hash"`
}

type createIdentityResponse struct {
	FingerprintHash string `json:"fingerprint_hash"`
}

type retrieveResponse struct {
	FingerprintHash string                         `json:"fingerprint_hash"`
	Documents       map[string]vault.DocumentEntry `json:"documents"`
}

type addDocumentResponse struct {
	FingerprintHash string         `json:"fingerprint_hash"`
	DocumentType    string         `json:"document_type"`
	ID              string         `json:"id"`
	Metadata        map[string]any `json:"metadata"`
	Confidence      float64        `json:"confidence"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
