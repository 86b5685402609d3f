// Package extraction turns a photograph of an identity document into a typed,
// confidence-scored Record by cascading through extraction tiers:
// vendor entities, then a language-model parse, then regular expressions.
package extraction

import (
	"context"
	"strings"
)

// DocumentType classifies an identity document
type DocumentType string

const (
	DocumentTypeDriversLicense   DocumentType = "drivers_license"
	DocumentTypePassport         DocumentType = "passport"
	DocumentTypeHealthCard       DocumentType = "health_card"
	DocumentTypeBCServices       DocumentType = "bc_services"
	DocumentTypeBCID             DocumentType = "bcid"
	DocumentTypeBirthCertificate DocumentType = "birth_certificate"
	DocumentTypeSINCard          DocumentType = "sin_card"
	DocumentTypeIDCard           DocumentType = "id_card"
	DocumentTypeUnknown          DocumentType = "unknown"
)

var knownTypes = map[DocumentType]bool{
	DocumentTypeDriversLicense:   true,
	DocumentTypePassport:         true,
	DocumentTypeHealthCard:       true,
	DocumentTypeBCServices:       true,
	DocumentTypeBCID:             true,
	DocumentTypeBirthCertificate: true,
	DocumentTypeSINCard:          true,
	DocumentTypeIDCard:           true,
	DocumentTypeUnknown:          true,
}

// ParseDocumentType normalizes s. ok is false for labels outside the enum.
func ParseDocumentType(s string) (t DocumentType, ok bool) {
	t = DocumentType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case "id_document":
		return DocumentTypeIDCard, true
	case "":
		return DocumentTypeUnknown, false
	}
	if knownTypes[t] {
		return t, true
	}
	return DocumentTypeUnknown, false
}

// Known reports whether t names a concrete document type.
func (t DocumentType) Known() bool {
	return t != "" && t != DocumentTypeUnknown && knownTypes[t]
}

// Method records which tier produced the document identifier
type Method string

const (
	MethodEntity    Method = "entity"
	MethodLLM       Method = "llm"
	MethodLLMVision Method = "llm_vision"
	MethodRegex     Method = "regex"
	MethodNone      Method = "none"
)

// Sentinel document identifiers
const (
	IDUnknown    = "UNKNOWN"
	IDError      = "ERROR"
	IDParseError = "PARSE_ERROR"
)

// Confidence floors applied when a later tier supplies the identifier
const (
	LLMConfidenceFloor   = 0.9
	RegexConfidenceFloor = 0.7
)

// Field keys. The first group is the canonical identity data; the second is
// internal bookkeeping that never leaves the service.
const (
	FieldFirstName        = "first_name"
	FieldLastName         = "last_name"
	FieldName             = "name"
	FieldDateOfBirth      = "date_of_birth"
	FieldExpiryDate       = "expiry_date"
	FieldIssueDate        = "issue_date"
	FieldAddress          = "address"
	FieldSex              = "sex"
	FieldIssuingAuthority = "issuing_authority"
	FieldHasPortrait      = "has_portrait"
	FieldMRZCode          = "mrz_code"

	FieldRawText          = "raw_text"
	FieldService          = "service"
	FieldExtractionMethod = "extraction_method"
	FieldFilename         = "filename"
	FieldError            = "error"
	FieldConfidenceNotes  = "confidence_notes"
)

// gapFields are the fields later tiers may fill when earlier tiers left them empty.
var gapFields = []string{
	FieldFirstName,
	FieldLastName,
	FieldDateOfBirth,
	FieldExpiryDate,
	FieldAddress,
	FieldSex,
	FieldIssuingAuthority,
}

// Image is an uploaded document image
type Image struct {
	Data     []byte
	MimeType string
	Filename string
}

// Record is the outcome of one extraction call
type Record struct {
	DocumentType DocumentType   `json:"document_type"`
	DocumentID   string         `json:"document_id"`
	Fields       map[string]any `json:"fields"`
	Confidence   float64        `json:"confidence"`
	Method       Method         `json:"extraction_method"`

	// Degraded marks a reading produced while a tier was failing. Such a
	// record may change on retry and is never cached.
	Degraded bool `json:"-"`
}

// NewRecord returns an inconclusive record ready for tiers to fill.
func NewRecord(t DocumentType) Record {
	if t == "" {
		t = DocumentTypeUnknown
	}
	return Record{
		DocumentType: t,
		DocumentID:   IDUnknown,
		Fields:       map[string]any{},
		Method:       MethodNone,
	}
}

// HasID reports whether the record carries a real identifier.
func (r Record) HasID() bool {
	switch r.DocumentID {
	case "", IDUnknown, IDError, IDParseError:
		return false
	}
	return true
}

// Failed reports whether the record is a failure sentinel.
func (r Record) Failed() bool {
	return r.DocumentID == IDError || r.DocumentID == IDParseError
}

// StringField returns a non-empty string field, or "".
func (r Record) StringField(key string) string {
	if v, ok := r.Fields[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// fillGap sets key only when the record has no non-empty value for it.
func (r *Record) fillGap(key, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || r.StringField(key) != "" {
		return false
	}
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[key] = value
	return true
}

// setID sets the identifier only if none is present yet.
func (r *Record) setID(id string, method Method, floor float64) bool {
	id = strings.TrimSpace(id)
	if id == "" || r.HasID() {
		return false
	}
	r.DocumentID = id
	r.Method = method
	if r.Confidence < floor {
		r.Confidence = floor
	}
	if r.Fields == nil {
		r.Fields = map[string]any{}
	}
	r.Fields[FieldExtractionMethod] = string(method)
	return true
}

// Result is a backend's internal outcome. Err carries the failure cause so it
// stays inspectable; the orchestrator converts it into a sentinel Record.
type Result struct {
	Record  Record
	RawText string

	// Minable marks RawText as input for the language-model and regex tiers.
	Minable bool

	Err error
}

// Backend is one tier-one extraction strategy.
type Backend interface {
	Name() string

	// Extract reads img. A non-nil error is reserved for setup problems such as
	// missing credentials; "could not read the document" is reported in Result.Err.
	Extract(ctx context.Context, img Image, hint DocumentType) (Result, error)
}

// Extractor is the single extraction contract the vault service depends on.
type Extractor interface {
	Extract(ctx context.Context, img Image, hint DocumentType) (Record, error)
}
