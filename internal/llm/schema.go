package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildDocumentJSONSchema returns the JSON-Schema the model output must satisfy.
// document_type is deliberately a free string here; unknown labels are mapped
// to "unknown" after parsing rather than failing the whole response.
func BuildDocumentJSONSchema() map[string]any {
	optString := func(desc string) map[string]any {
		return map[string]any{"type": []any{"string", "null"}, "description": desc}
	}
	isoDate := func(desc string) map[string]any {
		return map[string]any{
			"type":        []any{"string", "null"},
			"description": desc + " ISO 8601 (YYYY-MM-DD).",
		}
	}

	props := map[string]any{
		"unique_id": optString("The primary document identifier with its label removed: " +
			"licence number, passport number, personal health number without spaces, BCID value, SIN."),
		"document_type":     optString("One of: drivers_license, passport, bc_services, bcid, health_card, birth_certificate, sin_card, id_card, unknown."),
		"first_name":        optString("Given name exactly as printed."),
		"last_name":         optString("Family name exactly as printed."),
		"date_of_birth":     isoDate("Date of birth."),
		"expiry_date":       isoDate("Expiry date."),
		"issue_date":        isoDate("Issue date."),
		"address":           optString("Full mailing address including postal code."),
		"issuing_authority": optString("Issuing jurisdiction or agency."),
		"sex":               optString("M, F or X."),
		"additional_metadata": map[string]any{
			"type":                 []any{"object", "null"},
			"additionalProperties": map[string]any{"type": []any{"string", "number", "boolean", "null"}},
		},
		"confidence_notes": optString("Short notes on unclear or ambiguous fields."),
	}

	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("document.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("document.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}
