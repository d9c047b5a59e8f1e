package eval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Flattened key paths join object keys with "_" and mark array elements with
// "#<1-indexed>". Array elements are sorted by their canonical JSON first so
// element order never affects matching.

var (
	emailRe      = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)
	numberLikeRe = regexp.MustCompile(`^[+\-]?(?:\d+(?:\.\d+)?|\.\d+)(?:[eE][+\-]?\d+)?$`)
	arrayPartRe  = regexp.MustCompile(`^(.+?)#(\d+)$`)
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05.000-07:00",
}

// Flatten reduces a nested JSON value to a map of leaf-path keys to leaf
// values.
func Flatten(data interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	flattenInto(data, "", result)
	return result
}

func flattenInto(data interface{}, parentKey string, result map[string]interface{}) {
	switch v := data.(type) {
	case map[string]interface{}:
		for k, child := range v {
			key := k
			if parentKey != "" {
				key = parentKey + "_" + k
			}
			flattenInto(child, key, result)
		}
	case []interface{}:
		// Arrays compare as sets: sort by canonical JSON before indexing.
		sorted := make([]interface{}, len(v))
		copy(sorted, v)
		sort.SliceStable(sorted, func(i, j int) bool {
			return CanonicalJSON(sorted[i]) < CanonicalJSON(sorted[j])
		})
		for idx, child := range sorted {
			flattenInto(child, fmt.Sprintf("%s#%d", parentKey, idx+1), result)
		}
	default:
		result[parentKey] = data
	}
}

// Unflatten reverses Flatten, rebuilding nested objects and arrays.
func Unflatten(flat map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := flat[key]
		parts := strings.Split(key, "_")
		curr := result

		for i, part := range parts {
			last := i == len(parts)-1
			m := arrayPartRe.FindStringSubmatch(part)
			if m == nil {
				if last {
					curr[part] = value
				} else {
					next, ok := curr[part].(map[string]interface{})
					if !ok {
						next = make(map[string]interface{})
						curr[part] = next
					}
					curr = next
				}
				continue
			}

			listKey := m[1]
			idx, _ := strconv.Atoi(m[2])
			idx-- // 1-indexed on the wire

			list, ok := curr[listKey].([]interface{})
			if !ok && curr[listKey] != nil {
				// Collision with a non-list value: fall back to the
				// literal part as an object key.
				if last {
					curr[part] = value
				} else {
					next, ok := curr[part].(map[string]interface{})
					if !ok {
						next = make(map[string]interface{})
						curr[part] = next
					}
					curr = next
				}
				continue
			}
			for len(list) <= idx {
				list = append(list, nil)
			}
			if last {
				list[idx] = value
			} else {
				elem, ok := list[idx].(map[string]interface{})
				if !ok {
					elem = make(map[string]interface{})
					list[idx] = elem
				}
				curr[listKey] = list
				curr = elem
				continue
			}
			curr[listKey] = list
		}
	}
	return result
}

// CanonicalJSON renders a value as compact JSON with sorted object keys, the
// stable form used for sorting, structural equality, and cache keys.
func CanonicalJSON(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// InferType tags a leaf value with its expected-type. Identifier-looking
// keys always compare exactly; the rest is decided by the value itself.
func InferType(key string, value interface{}) string {
	lowerKey := strings.ToLower(key)
	if strings.HasSuffix(lowerKey, "id") || strings.Contains(lowerKey, "_id_") {
		return TypeExact
	}

	switch v := value.(type) {
	case map[string]interface{}, []interface{}:
		return TypeJSON
	case float64, int, int64:
		return TypeNumber
	case string:
		if emailRe.MatchString(v) {
			return TypeEmail
		}
		if isDate(v) {
			return TypeDate
		}
		if numberLikeRe.MatchString(strings.TrimSpace(v)) {
			return TypeNumber
		}
		return TypeText
	default:
		// nil, booleans, and anything exotic compare as text
		return TypeText
	}
}

// NormalizeLeaf renders a leaf value as the expected-output string:
// structures become minified JSON, nil becomes empty.
func NormalizeLeaf(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]interface{}, []interface{}:
		return CanonicalJSON(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// GroundTruthEntry is one normalized ground-truth row derived from a
// flattened object.
type GroundTruthEntry struct {
	QueryID        string `json:"query_id"`
	ExpectedOutput string `json:"expected_output"`
	MatchType      string `json:"type"`
	SourceField    string `json:"source_field,omitempty"`
}

// AIOutputEntry is one normalized candidate-output row.
type AIOutputEntry struct {
	QueryID      string `json:"query_id"`
	ActualOutput string `json:"actual_output"`
	RunID        string `json:"run_id"`
}

// ToGroundTruthEntries converts a flattened object into sorted ground-truth
// rows with inferred types.
func ToGroundTruthEntries(flat map[string]interface{}) []GroundTruthEntry {
	out := make([]GroundTruthEntry, 0, len(flat))
	for key, raw := range flat {
		out = append(out, GroundTruthEntry{
			QueryID:        key,
			ExpectedOutput: NormalizeLeaf(raw),
			MatchType:      InferType(key, raw),
			SourceField:    sourceField(key),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })
	return out
}

// ToAIOutputEntries converts a flattened object into sorted candidate rows.
func ToAIOutputEntries(flat map[string]interface{}, runID string) []AIOutputEntry {
	out := make([]AIOutputEntry, 0, len(flat))
	for key, raw := range flat {
		var val string
		if raw != nil {
			val = NormalizeLeaf(raw)
		}
		out = append(out, AIOutputEntry{QueryID: key, ActualOutput: val, RunID: runID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueryID < out[j].QueryID })
	return out
}

func sourceField(key string) string {
	field := key
	if i := strings.LastIndex(field, "_"); i != -1 {
		field = field[i+1:]
	}
	if i := strings.Index(field, "#"); i != -1 {
		field = field[:i]
	}
	return field
}

func isDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}
