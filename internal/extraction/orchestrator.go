package extraction

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/inspire-id/idvault/internal/errors"
	"github.com/inspire-id/idvault/internal/llm"
	"github.com/inspire-id/idvault/internal/metrics"

	"go.uber.org/zap"
)

// TextReader parses recognized text with a language model.
// *VisionBackend satisfies it.
type TextReader interface {
	ReadText(ctx context.Context, text string, hint DocumentType, filename string) (*llm.ParsedDocument, error)
}

// Orchestrator drives the tier cascade for one configured backend:
// backend, then a language-model parse of the recognized text, then regular
// expressions. It is safe for concurrent use.
type Orchestrator struct {
	backend      Backend
	text         TextReader
	maxDimension int
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// OrchestratorOption customizes an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithTextReader enables the language-model text tier.
func WithTextReader(r TextReader) OrchestratorOption {
	return func(o *Orchestrator) { o.text = r }
}

// WithMaxImageDimension sets the preprocessing downscale bound.
func WithMaxImageDimension(px int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxDimension = px }
}

// WithMetrics records extraction metrics.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator around backend.
func NewOrchestrator(backend Backend, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		backend:      backend,
		maxDimension: DefaultMaxImageDimension,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Extract runs the cascade. The returned error is non-nil only for an empty
// image or a backend setup problem; every other failure resolves to a
// storable sentinel Record.
func (o *Orchestrator) Extract(ctx context.Context, img Image, hint DocumentType) (Record, error) {
	start := time.Now()
	if !hint.Known() {
		hint = DocumentTypeUnknown
	}

	img, err := Preprocess(img, o.maxDimension)
	if err != nil {
		return Record{}, err
	}

	res, err := o.backend.Extract(ctx, img, hint)
	if err != nil {
		return Record{}, err
	}
	if res.Err != nil {
		rec := failureRecord(o.backend.Name(), img, res.Err)
		o.metrics.RecordTierFailure(tierName(o.backend))
		o.logger.Warn("Extraction backend failed",
			zap.String("backend", o.backend.Name()),
			zap.String("sentinel", rec.DocumentID),
			zap.Error(res.Err),
		)
		o.metrics.RecordExtraction(o.backend.Name(), string(MethodNone), time.Since(start))
		return rec, nil
	}

	rec := res.Record
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if !rec.HasID() && res.Minable {
		o.textTier(ctx, &rec, res.RawText, img.Filename)
	}
	if !rec.HasID() && res.Minable {
		o.regexTier(&rec, res.RawText)
	}

	o.metrics.RecordExtraction(o.backend.Name(), string(rec.Method), time.Since(start))
	o.logger.Info("Extraction finished",
		zap.String("backend", o.backend.Name()),
		zap.String("document_type", string(rec.DocumentType)),
		zap.String("method", string(rec.Method)),
		zap.Bool("has_id", rec.HasID()),
		zap.Float64("confidence", rec.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)
	return rec, nil
}

func (o *Orchestrator) textTier(ctx context.Context, rec *Record, text, filename string) {
	if o.text == nil {
		return
	}
	doc, err := o.text.ReadText(ctx, text, rec.DocumentType, filename)
	if err != nil {
		o.metrics.RecordTierFailure("llm_text")
		o.logger.Warn("LLM text tier failed", zap.Error(err))
		rec.Degraded = true
		return
	}
	// gaps are only filled from a reading that found an identifier
	if doc == nil || doc.ID() == "" {
		o.logger.Debug("LLM text tier found no identifier")
		return
	}
	applyParsed(rec, doc, MethodLLM)
}

func (o *Orchestrator) regexTier(rec *Record, text string) {
	id := MatchDocumentID(text, rec.DocumentType)
	if id == "" {
		o.metrics.RecordTierFailure("regex")
		return
	}
	rec.setID(id, MethodRegex, RegexConfidenceFloor)
}

func tierName(b Backend) string {
	if _, ok := b.(*VisionBackend); ok {
		return "vision"
	}
	return "entity"
}

// failureRecord converts a backend failure into its sentinel record.
func failureRecord(service string, img Image, cause error) Record {
	rec := NewRecord(DocumentTypeUnknown)
	rec.DocumentID = IDError
	if errors.Is(cause, apperrors.ErrParseFailed) {
		rec.DocumentID = IDParseError
	}
	rec.Fields[FieldError] = cause.Error()
	rec.Fields[FieldService] = service
	rec.Fields[FieldFilename] = img.Filename
	return rec
}
