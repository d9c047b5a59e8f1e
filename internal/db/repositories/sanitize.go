package repositories

import (
	"encoding/json"
	"math"
)

// SanitizeFloats replaces NaN and infinite float values anywhere inside a
// decoded JSON structure with 0.0. Serialized results must stay valid JSON,
// and encoding/json refuses non-finite floats outright.
func SanitizeFloats(value interface{}) interface{} {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0.0
		}
		return v
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			out[k] = SanitizeFloats(elem)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = SanitizeFloats(elem)
		}
		return out
	default:
		return value
	}
}

// sanitizeJSON round-trips a JSON document through SanitizeFloats. Invalid
// input is returned unchanged; the caller already treats the column as opaque.
func sanitizeJSON(raw string) string {
	if raw == "" {
		return raw
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return raw
	}
	cleaned, err := json.Marshal(SanitizeFloats(decoded))
	if err != nil {
		return raw
	}
	return string(cleaned)
}
