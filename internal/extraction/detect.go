package extraction

import (
	"regexp"
	"strings"
)

// Entity is one typed value returned by the document classifier
type Entity struct {
	Type       string  `json:"type"`
	Text       string  `json:"mentionText"`
	Confidence float64 `json:"confidence"`
}

// entityFields maps classifier entity types to record field keys.
var entityFields = map[string]string{
	"document_id":     "document_id",
	"given_name":      FieldFirstName,
	"given_names":     FieldFirstName,
	"family_name":     FieldLastName,
	"full_name":       FieldName,
	"date_of_birth":   FieldDateOfBirth,
	"expiration_date": FieldExpiryDate,
	"issue_date":      FieldIssueDate,
	"address":         FieldAddress,
	"portrait":        FieldHasPortrait,
	"mrz_code":        FieldMRZCode,
}

var (
	reDriver   = regexp.MustCompile(`\bdriver|\blicen[cs]e\b|\bdl\b`)
	reIDCard   = regexp.MustCompile(`\bidentification\b|\bid card\b`)
	reHealth   = regexp.MustCompile(`\bhealth\b|\bmedical\b`)
	reSIN      = regexp.MustCompile(`\bsocial insurance\b|\bsin\b`)
	rePassport = regexp.MustCompile(`\bpassport\b`)
	reBCID     = regexp.MustCompile(`\bbcid\b`)
)

// DetectDocumentType classifies a document from its recognized text and
// entities. Rules are checked in priority order; the first match wins.
func DetectDocumentType(text string, entities []Entity) DocumentType {
	lower := strings.ToLower(text)
	has := func(entityType string) bool {
		for _, e := range entities {
			if e.Type == entityType {
				return true
			}
		}
		return false
	}

	switch {
	case has("mrz_code") || rePassport.MatchString(lower):
		return DocumentTypePassport
	case reDriver.MatchString(lower):
		return DocumentTypeDriversLicense
	case reBCID.MatchString(lower):
		return DocumentTypeBCID
	case reIDCard.MatchString(lower):
		return DocumentTypeIDCard
	case strings.Contains(lower, "birth") && strings.Contains(lower, "certificate"):
		return DocumentTypeBirthCertificate
	case reHealth.MatchString(lower):
		return DocumentTypeHealthCard
	case reSIN.MatchString(lower):
		return DocumentTypeSINCard
	case has("document_id"):
		return DocumentTypeIDCard
	}
	return DocumentTypeUnknown
}

// RecordFromEntities builds a tier-one record from classifier output. The
// hint, when known, takes precedence over detection.
func RecordFromEntities(text string, entities []Entity, hint DocumentType) Record {
	t := hint
	if !t.Known() {
		t = DetectDocumentType(text, entities)
	}
	rec := NewRecord(t)

	var sum float64
	var n int
	for _, e := range entities {
		if e.Confidence > 0 {
			sum += e.Confidence
			n++
		}

		key, ok := entityFields[e.Type]
		value := strings.TrimSpace(e.Text)
		switch {
		case key == "document_id":
			if value != "" && !rec.HasID() {
				rec.DocumentID = value
				rec.Method = MethodEntity
			}
		case key == FieldHasPortrait:
			rec.Fields[FieldHasPortrait] = true
		case ok:
			if _, exists := rec.Fields[key]; !exists && value != "" {
				rec.Fields[key] = value
			}
		case e.Type != "" && value != "":
			rec.Fields["raw_"+e.Type] = value
		}
	}
	if n > 0 {
		rec.Confidence = sum / float64(n)
	}
	return rec
}
