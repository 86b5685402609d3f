package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/inspire-id/idvault/internal/errors"
	"github.com/inspire-id/idvault/internal/resilience"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

const systemPrompt = `You extract identity data from photographs and scans of government-issued identity documents.

Rules:
- Copy names exactly as printed.
- Convert every date to YYYY-MM-DD when the date can be read unambiguously.
- unique_id is the document's primary identifier (licence number, passport number, personal health number, BCID, SIN). Return only the value, never the label, and drop internal spaces.
- Pick document_type from the listed labels using layout and wording cues.
- Put any other useful printed fields (class, restrictions, height, eye colour, nationality, place of birth) in additional_metadata.
- Use null for anything that is absent or unreadable. Never guess an identifier.
- Mention unclear fields in confidence_notes.`

// ParsedDocument is the model's structured reading of one document
type ParsedDocument struct {
	UniqueID           *string        `json:"unique_id"`
	DocumentType       *string        `json:"document_type"`
	FirstName          *string        `json:"first_name"`
	LastName           *string        `json:"last_name"`
	DateOfBirth        *string        `json:"date_of_birth"`
	ExpiryDate         *string        `json:"expiry_date"`
	IssueDate          *string        `json:"issue_date"`
	Address            *string        `json:"address"`
	IssuingAuthority   *string        `json:"issuing_authority"`
	Sex                *string        `json:"sex"`
	AdditionalMetadata map[string]any `json:"additional_metadata"`
	ConfidenceNotes    *string        `json:"confidence_notes"`
}

// Fields returns the non-empty canonical fields keyed by their record names.
func (d *ParsedDocument) Fields() map[string]string {
	out := make(map[string]string)
	set := func(k string, v *string) {
		if v == nil {
			return
		}
		if s := strings.TrimSpace(*v); s != "" {
			out[k] = s
		}
	}
	set("first_name", d.FirstName)
	set("last_name", d.LastName)
	set("date_of_birth", d.DateOfBirth)
	set("expiry_date", d.ExpiryDate)
	set("issue_date", d.IssueDate)
	set("address", d.Address)
	set("issuing_authority", d.IssuingAuthority)
	if sex := normalizeSex(d.Sex); sex != "" {
		out["sex"] = sex
	}
	return out
}

// ID returns the trimmed identifier, or "" when the model found none.
func (d *ParsedDocument) ID() string {
	if d.UniqueID == nil {
		return ""
	}
	id := strings.TrimSpace(*d.UniqueID)
	switch strings.ToUpper(id) {
	case "NULL", "NONE", "N/A", "UNKNOWN":
		return ""
	}
	return id
}

// Type returns the document_type label, or "" when missing.
func (d *ParsedDocument) Type() string {
	if d.DocumentType == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*d.DocumentType))
}

func normalizeSex(v *string) string {
	if v == nil {
		return ""
	}
	switch strings.ToUpper(strings.TrimSpace(*v)) {
	case "M", "MALE":
		return "M"
	case "F", "FEMALE":
		return "F"
	case "X":
		return "X"
	}
	return ""
}

// Parser asks a language model for a ParsedDocument, from either recognized
// text or the image itself, and checks the answer against the document schema.
type Parser struct {
	completer Completer
	guard     *resilience.Guard
	schema    *jsonschema.Schema
	schemaDoc string
	logger    *zap.Logger
}

// NewParser creates a parser. guard may be nil.
func NewParser(completer Completer, guard *resilience.Guard, logger *zap.Logger) (*Parser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schemaMap := BuildDocumentJSONSchema()
	schema, err := compileSchema(schemaMap)
	if err != nil {
		return nil, err
	}
	return &Parser{
		completer: completer,
		guard:     guard,
		schema:    schema,
		schemaDoc: mustJSON(schemaMap),
		logger:    logger,
	}, nil
}

// ParseText parses recognized document text.
func (p *Parser) ParseText(ctx context.Context, text, instructions string) (*ParsedDocument, error) {
	user := instructions + "\n\nDocument text:\n" + text
	return p.parse(ctx, "text", user)
}

// ParseImage sends the image inline as a data URI.
func (p *Parser) ParseImage(ctx context.Context, image []byte, mimeType, instructions string) (*ParsedDocument, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	parts := []ContentPart{
		TextPart(instructions + "\n\nRead the attached document image."),
		ImagePart(dataURL),
	}
	return p.parse(ctx, "image", parts)
}

func (p *Parser) parse(ctx context.Context, mode string, userContent any) (*ParsedDocument, error) {
	if p == nil || p.completer == nil {
		return nil, apperrors.New(apperrors.ErrBackendNotConfigured.Code, "no llm provider configured")
	}

	rid := uuid.New().String()
	start := time.Now()
	p.logger.Info("llm.parse.start", zap.String("req_id", rid), zap.String("mode", mode))

	req := ChatRequest{
		Temperature:    0,
		ResponseFormat: &ResponseFormat{Type: "json_object"},
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "system", Content: "Return ONLY a JSON object matching this JSON Schema:\n" + p.schemaDoc},
			{Role: "user", Content: userContent},
		},
	}

	resp, err := resilience.Do(ctx, p.guard, func(ctx context.Context) (*ChatResponse, error) {
		return p.completer.ChatCompletion(ctx, req)
	})
	if err != nil {
		p.logger.Warn("llm.parse.http_error",
			zap.String("req_id", rid),
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil, apperrors.WrapAs(apperrors.ErrBackendFailed, err)
	}

	content, err := resp.Text()
	if err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrParseFailed, err)
	}
	raw := []byte(StripCodeFences(content))

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		p.logger.Warn("llm.parse.decode_error", zap.String("req_id", rid), zap.Error(err))
		return nil, apperrors.WrapAs(apperrors.ErrParseFailed, fmt.Errorf("decode model output: %w", err))
	}
	if err := p.schema.Validate(generic); err != nil {
		p.logger.Warn("llm.parse.schema_validation_failed", zap.String("req_id", rid), zap.Error(err))
		return nil, apperrors.WrapAs(apperrors.ErrParseFailed, fmt.Errorf("json does not match schema: %w", err))
	}

	var doc ParsedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrParseFailed, fmt.Errorf("unmarshal fields: %w", err))
	}

	p.logger.Info("llm.parse.ok",
		zap.String("req_id", rid),
		zap.Bool("has_id", doc.ID() != ""),
		zap.String("document_type", doc.Type()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &doc, nil
}

// StripCodeFences removes a surrounding ```json ... ``` block if present.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
