package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenNestedObject(t *testing.T) {
	data := map[string]interface{}{
		"user": map[string]interface{}{
			"name": "Alice",
			"address": map[string]interface{}{
				"city": "Zurich",
			},
		},
		"active": true,
	}

	flat := Flatten(data)
	assert.Equal(t, "Alice", flat["user_name"])
	assert.Equal(t, "Zurich", flat["user_address_city"])
	assert.Equal(t, true, flat["active"])
}

func TestFlattenArraysAreOrderIndependent(t *testing.T) {
	a := Flatten(map[string]interface{}{"tags": []interface{}{"beta", "alpha"}})
	b := Flatten(map[string]interface{}{"tags": []interface{}{"alpha", "beta"}})
	assert.Equal(t, a, b)
	assert.Equal(t, "alpha", a["tags#1"])
	assert.Equal(t, "beta", a["tags#2"])
}

func TestUnflattenRoundTrip(t *testing.T) {
	original := map[string]interface{}{
		"order": map[string]interface{}{
			"id":    "o-1",
			"total": 99.5,
			"items": []interface{}{
				map[string]interface{}{"sku": "a", "qty": 1.0},
				map[string]interface{}{"sku": "b", "qty": 2.0},
			},
		},
	}

	rebuilt := Unflatten(Flatten(original))

	order, ok := rebuilt["order"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "o-1", order["id"])
	assert.Equal(t, 99.5, order["total"])
	items, ok := order["items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 2)
}

func TestUnflattenKeyCollisionFallsBackToLiteral(t *testing.T) {
	flat := map[string]interface{}{
		"a":   "scalar",
		"a#1": "elem",
		"b#1": "first",
		"b#2": "second",
	}
	rebuilt := Unflatten(flat)
	// "a" was claimed by a scalar, so "a#1" stays a literal key.
	assert.Equal(t, "scalar", rebuilt["a"])
	assert.Equal(t, "elem", rebuilt["a#1"])
	list, ok := rebuilt["b"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, []interface{}{"first", "second"}, list)
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    interface{}
		expected string
	}{
		{"id suffix", "user_id", "abc", TypeExact},
		{"embedded id", "parent_id_ref", "abc", TypeExact},
		{"object", "payload", map[string]interface{}{"a": 1}, TypeJSON},
		{"array", "items", []interface{}{1, 2}, TypeJSON},
		{"float", "total", 12.5, TypeNumber},
		{"email", "contact", "alice@example.com", TypeEmail},
		{"date", "created", "2024-03-01", TypeDate},
		{"numeric string", "count", "42", TypeNumber},
		{"free text", "summary", "hello world", TypeText},
		{"bool", "flag", true, TypeText},
		{"nil", "missing", nil, TypeText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InferType(tt.key, tt.value))
		})
	}
}

func TestNormalizeLeaf(t *testing.T) {
	assert.Equal(t, "", NormalizeLeaf(nil))
	assert.Equal(t, "plain", NormalizeLeaf("plain"))
	assert.Equal(t, "12.5", NormalizeLeaf(12.5))
	assert.Equal(t, "true", NormalizeLeaf(true))
	assert.Equal(t, `{"a":1}`, NormalizeLeaf(map[string]interface{}{"a": 1}))
}

func TestToGroundTruthEntriesSortedWithTypes(t *testing.T) {
	flat := map[string]interface{}{
		"user_email": "bob@example.com",
		"user_age":   30.0,
	}
	entries := ToGroundTruthEntries(flat)
	require.Len(t, entries, 2)
	assert.Equal(t, "user_age", entries[0].QueryID)
	assert.Equal(t, TypeNumber, entries[0].MatchType)
	assert.Equal(t, "user_email", entries[1].QueryID)
	assert.Equal(t, TypeEmail, entries[1].MatchType)
	assert.Equal(t, "email", entries[1].SourceField)
}
