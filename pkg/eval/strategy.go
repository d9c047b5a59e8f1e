package eval

import (
	"fmt"
	"strings"
)

// StrategyMap maps flattened key paths to matching strategies.
type StrategyMap map[string]string

var validStrategies = map[string]bool{
	StrategyExact:    true,
	StrategyFuzzy:    true,
	StrategySemantic: true,
	StrategyIgnore:   true,
}

// ParseStrategies accepts a strategy configuration in nested or
// pre-flattened form and returns the flattened map. Nested objects are
// flattened with the same "_"/"#idx" convention used for data paths.
// Strategy literals outside {EXACT, FUZZY, SEMANTIC, IGNORE} are rejected.
func ParseStrategies(raw map[string]interface{}) (StrategyMap, error) {
	if len(raw) == 0 {
		return StrategyMap{}, nil
	}
	flat := Flatten(raw)
	out := make(StrategyMap, len(flat))
	for key, value := range flat {
		literal, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field strategy for %q must be a string, got %T", key, value)
		}
		literal = strings.ToUpper(strings.TrimSpace(literal))
		if !validStrategies[literal] {
			return nil, fmt.Errorf("unknown field strategy %q for %q", literal, key)
		}
		out[key] = literal
	}
	return out, nil
}

// Resolve selects the matching strategy for a key. An explicit map entry
// wins; otherwise the ground-truth value's type decides: structured and
// clearly-typed values compare exactly, free text compares semantically.
func (m StrategyMap) Resolve(key string, gtValue interface{}) string {
	if strategy, ok := m[key]; ok {
		return strategy
	}
	return inferStrategy(gtValue)
}

func inferStrategy(gtValue interface{}) string {
	switch v := gtValue.(type) {
	case bool, float64, int, int64:
		return StrategyExact
	case map[string]interface{}, []interface{}:
		return StrategyExact
	case string:
		switch InferType("", v) {
		case TypeNumber, TypeDate, TypeEmail:
			return StrategyExact
		default:
			return StrategySemantic
		}
	default:
		return StrategyExact
	}
}
