// Package redact filters document field maps down to what a caller may see.
package redact

// UserFacingFields is the allow-list of semantic field names returned to callers.
var UserFacingFields = map[string]bool{
	"first_name":        true,
	"last_name":         true,
	"date_of_birth":     true,
	"expiry_date":       true,
	"issue_date":        true,
	"address":           true,
	"sex":               true,
	"issuing_authority": true,
	"nationality":       true,
	"place_of_birth":    true,
}

// Fields returns a copy of fields holding only allow-listed keys. Nil and
// empty values are dropped as well. The result is never nil.
func Fields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(UserFacingFields))
	for k, v := range fields {
		if !UserFacingFields[k] || v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}
