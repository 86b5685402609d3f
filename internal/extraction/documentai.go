package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/inspire-id/idvault/internal/config"
	apperrors "github.com/inspire-id/idvault/internal/errors"
	"github.com/inspire-id/idvault/internal/resilience"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
)

const (
	documentAIService  = "document_ai"
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// DocumentAIBackend is the structured-entity backend. It sends the image to a
// Document AI identity processor and maps the returned entities onto a Record.
type DocumentAIBackend struct {
	cfg    config.DocumentAIConfig
	guard  *resilience.Guard
	logger *zap.Logger

	// httpClient is built on first use from application default credentials
	// unless one was supplied.
	httpClient *http.Client
	clientOnce sync.Once
	clientErr  error
}

// DocumentAIOption customizes a DocumentAIBackend
type DocumentAIOption func(*DocumentAIBackend)

// WithHTTPClient supplies an already-authorized HTTP client.
func WithHTTPClient(c *http.Client) DocumentAIOption {
	return func(b *DocumentAIBackend) { b.httpClient = c }
}

// NewDocumentAIBackend creates the structured-entity backend.
func NewDocumentAIBackend(cfg config.DocumentAIConfig, guard *resilience.Guard, logger *zap.Logger, opts ...DocumentAIOption) *DocumentAIBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	b := &DocumentAIBackend{cfg: cfg, guard: guard, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements Backend
func (b *DocumentAIBackend) Name() string { return documentAIService }

func (b *DocumentAIBackend) processorName() string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", b.cfg.ProjectID, b.cfg.Location, b.cfg.ProcessorID)
}

func (b *DocumentAIBackend) endpoint() string {
	base := b.cfg.Endpoint
	if base == "" {
		base = fmt.Sprintf("https://%s-documentai.googleapis.com", b.cfg.Location)
	}
	return strings.TrimRight(base, "/") + "/v1/" + b.processorName() + ":process"
}

func (b *DocumentAIBackend) client(ctx context.Context) (*http.Client, error) {
	b.clientOnce.Do(func() {
		if b.httpClient != nil {
			return
		}
		// the client outlives the request that happened to build it
		c, err := google.DefaultClient(context.WithoutCancel(ctx), cloudPlatformScope)
		if err != nil {
			b.clientErr = apperrors.Wrap(err, apperrors.ErrBackendNotConfigured.Code, "no google application credentials")
			return
		}
		b.httpClient = c
	})
	return b.httpClient, b.clientErr
}

type processRequest struct {
	RawDocument struct {
		Content  string `json:"content"`
		MimeType string `json:"mimeType"`
	} `json:"rawDocument"`
}

type processEntity struct {
	Entity
	Properties []processEntity `json:"properties"`
}

type processResponse struct {
	Document struct {
		Text     string          `json:"text"`
		Entities []processEntity `json:"entities"`
	} `json:"document"`
}

// flatten lifts nested entity properties to the top level.
func flatten(in []processEntity) []Entity {
	var out []Entity
	for _, e := range in {
		out = append(out, e.Entity)
		out = append(out, flatten(e.Properties)...)
	}
	return out
}

// Extract implements Backend.
func (b *DocumentAIBackend) Extract(ctx context.Context, img Image, hint DocumentType) (Result, error) {
	if !b.cfg.Configured() {
		return Result{}, apperrors.New(apperrors.ErrBackendNotConfigured.Code, "document_ai project_id and processor_id are required")
	}
	client, err := b.client(ctx)
	if err != nil {
		return Result{}, err
	}

	doc, err := resilience.Do(ctx, b.guard, func(ctx context.Context) (*processResponse, error) {
		return b.process(ctx, client, img)
	})
	if err != nil {
		return Result{Err: apperrors.WrapAs(apperrors.ErrBackendFailed, err)}, nil
	}

	text := doc.Document.Text
	rec := RecordFromEntities(text, flatten(doc.Document.Entities), hint)
	rec.Fields[FieldService] = documentAIService
	rec.Fields[FieldRawText] = text
	rec.Fields[FieldFilename] = img.Filename

	return Result{Record: rec, RawText: text, Minable: strings.TrimSpace(text) != ""}, nil
}

func (b *DocumentAIBackend) process(ctx context.Context, client *http.Client, img Image) (*processResponse, error) {
	var reqBody processRequest
	reqBody.RawDocument.Content = base64.StdEncoding.EncodeToString(img.Data)
	reqBody.RawDocument.MimeType = img.MimeType

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	rid := uuid.New().String()
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", rid)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		b.logger.Warn("documentai.http_error",
			zap.String("req_id", rid),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("document ai error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out processResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	b.logger.Debug("documentai.response",
		zap.String("req_id", rid),
		zap.Int("entities", len(out.Document.Entities)),
		zap.Int("text_len", len(out.Document.Text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &out, nil
}
