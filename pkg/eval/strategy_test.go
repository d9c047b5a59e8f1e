package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategiesFlattensNestedForm(t *testing.T) {
	raw := map[string]interface{}{
		"user": map[string]interface{}{
			"name":  "semantic",
			"email": "EXACT",
		},
		"notes": "ignore",
	}
	m, err := ParseStrategies(raw)
	require.NoError(t, err)
	assert.Equal(t, StrategySemantic, m["user_name"])
	assert.Equal(t, StrategyExact, m["user_email"])
	assert.Equal(t, StrategyIgnore, m["notes"])
}

func TestParseStrategiesRejectsUnknownLiteral(t *testing.T) {
	_, err := ParseStrategies(map[string]interface{}{"a": "SOMETIMES"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field strategy")
}

func TestParseStrategiesRejectsNonString(t *testing.T) {
	_, err := ParseStrategies(map[string]interface{}{"a": 1.0})
	require.Error(t, err)
}

func TestParseStrategiesEmpty(t *testing.T) {
	m, err := ParseStrategies(nil)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestResolveExplicitEntryWins(t *testing.T) {
	m := StrategyMap{"field": StrategyFuzzy}
	assert.Equal(t, StrategyFuzzy, m.Resolve("field", "free text that would otherwise be semantic"))
}

func TestResolveInfersFromValueType(t *testing.T) {
	m := StrategyMap{}
	tests := []struct {
		name     string
		value    interface{}
		expected string
	}{
		{"bool", true, StrategyExact},
		{"number", 3.5, StrategyExact},
		{"object", map[string]interface{}{"a": 1}, StrategyExact},
		{"array", []interface{}{1}, StrategyExact},
		{"numeric string", "42", StrategyExact},
		{"date string", "2024-05-01", StrategyExact},
		{"email string", "a@b.com", StrategyExact},
		{"free text", "a longer description", StrategySemantic},
		{"nil", nil, StrategyExact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, m.Resolve("key", tt.value))
		})
	}
}
