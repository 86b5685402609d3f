package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/inspire-id/idvault/internal/errors"
	"github.com/inspire-id/idvault/internal/llm"

	"go.uber.org/zap"
)

const visionService = "llm_vision"

// DocumentParser is the language-model parse the vision backend and the
// text tier depend on. *llm.Parser satisfies it.
type DocumentParser interface {
	ParseText(ctx context.Context, text, instructions string) (*llm.ParsedDocument, error)
	ParseImage(ctx context.Context, image []byte, mimeType, instructions string) (*llm.ParsedDocument, error)
}

// VisionBackend is the vision-first backend: a multimodal model reads the
// image directly. It also parses pre-extracted text for the fallback tier.
type VisionBackend struct {
	parser  DocumentParser
	prompts *PromptCatalog
	logger  *zap.Logger
}

// NewVisionBackend creates the vision-first backend. prompts may be nil.
func NewVisionBackend(parser DocumentParser, prompts *PromptCatalog, logger *zap.Logger) *VisionBackend {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VisionBackend{parser: parser, prompts: prompts, logger: logger}
}

// Name implements Backend
func (v *VisionBackend) Name() string { return visionService }

// Extract implements Backend. The image goes to the model as a data URI.
func (v *VisionBackend) Extract(ctx context.Context, img Image, hint DocumentType) (Result, error) {
	if v.parser == nil {
		return Result{}, fmt.Errorf("vision backend has no parser")
	}
	instructions := v.instructions(hint, img.Filename)

	doc, err := v.parser.ParseImage(ctx, img.Data, img.MimeType, instructions)
	if errors.Is(err, apperrors.ErrBackendNotConfigured) {
		return Result{}, err
	}
	if err != nil {
		return Result{Err: err}, nil
	}

	rec := NewRecord(hint)
	applyParsed(&rec, doc, MethodLLMVision)
	rec.Fields[FieldService] = visionService
	rec.Fields[FieldFilename] = img.Filename
	return Result{Record: rec}, nil
}

// ReadText asks the model to parse already-recognized document text.
func (v *VisionBackend) ReadText(ctx context.Context, text string, hint DocumentType, filename string) (*llm.ParsedDocument, error) {
	if v.parser == nil {
		return nil, fmt.Errorf("vision backend has no parser")
	}
	return v.parser.ParseText(ctx, text, v.instructions(hint, filename))
}

func (v *VisionBackend) instructions(hint DocumentType, filename string) string {
	out := v.prompts.Select(hint).Render()
	if filename = strings.TrimSpace(filename); filename != "" {
		out += "\nOriginal filename (may hint at the document type): " + filename
	}
	return out
}

// applyParsed merges a model reading into rec. The identifier and fields
// only fill gaps; an unknown document type adopts the model's label.
func applyParsed(rec *Record, doc *llm.ParsedDocument, method Method) bool {
	if doc == nil {
		return false
	}
	if !rec.DocumentType.Known() {
		if t, ok := ParseDocumentType(doc.Type()); ok {
			rec.DocumentType = t
		}
	}

	fields := doc.Fields()
	for _, key := range gapFields {
		rec.fillGap(key, fields[key])
	}
	rec.fillGap(FieldIssueDate, fields[FieldIssueDate])

	for k, val := range doc.AdditionalMetadata {
		if _, exists := rec.Fields[k]; !exists && val != nil {
			rec.Fields[k] = val
		}
	}
	if doc.ConfidenceNotes != nil && strings.TrimSpace(*doc.ConfidenceNotes) != "" {
		rec.Fields[FieldConfidenceNotes] = strings.TrimSpace(*doc.ConfidenceNotes)
	}

	return rec.setID(doc.ID(), method, LLMConfidenceFloor)
}
