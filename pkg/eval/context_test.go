package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseContextCell(t *testing.T) {
	tests := []struct {
		name      string
		cell      string
		delimiter string
		expected  []string
	}{
		{"empty", "   ", "", nil},
		{"single chunk", "one piece of context", "", []string{"one piece of context"}},
		{"json array", `["first", "second"]`, "", []string{"first", "second"}},
		{"pipe delimited", "first || second", "", []string{"first", "second"}},
		{"blank line delimited", "first\n\nsecond", "", []string{"first", "second"}},
		{"explicit delimiter", "a;b;;c", ";", []string{"a", "b", "c"}},
		{"invalid json falls through", "[not json || really", "", []string{"[not json", "really"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseContextCell(tt.cell, tt.delimiter))
		})
	}
}

func TestDiscoverColumnsRecognizesRoles(t *testing.T) {
	headers := []string{"Question", "Ground_Truth", "Bot_alpha", "Bot_beta", "Context_alpha", "Context"}
	cols, err := DiscoverColumns(headers)
	require.NoError(t, err)

	assert.Equal(t, "Question", cols.Query)
	assert.Equal(t, "Ground_Truth", cols.GroundTruth)
	assert.Equal(t, []string{"alpha", "beta"}, cols.Bots)
	assert.Equal(t, "Context_alpha", cols.BotContexts["alpha"])
	_, hasBeta := cols.BotContexts["beta"]
	assert.False(t, hasBeta)
	assert.Equal(t, "Context", cols.SharedContext)
}

func TestDiscoverColumnsRequiresQuery(t *testing.T) {
	_, err := DiscoverColumns([]string{"Bot_alpha", "Context"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no query column")
}

func TestBuildDataset(t *testing.T) {
	cols, err := DiscoverColumns([]string{"query", "gt", "Bot_a", "Bot_b", "Context_a", "Context"})
	require.NoError(t, err)

	rows := []map[string]string{
		{
			"query":     "What is 2+2?",
			"gt":        "4",
			"Bot_a":     "four",
			"Bot_b":     "five",
			"Context_a": "arithmetic || addition",
			"Context":   "shared chunk",
		},
		{"query": "  "}, // skipped
	}

	cases := BuildDataset(rows, cols, "")
	require.Len(t, cases, 1)

	c := cases[0]
	assert.Equal(t, "q1", c.ID)
	assert.Equal(t, "What is 2+2?", c.Query)
	assert.Equal(t, "4", c.GroundTruth)
	assert.Equal(t, "four", c.BotResponses["a"])
	assert.Equal(t, []string{"arithmetic", "addition"}, c.BotContexts["a"])
	// Bot b has no dedicated context column and falls back to the shared one.
	assert.Equal(t, []string{"shared chunk"}, c.BotContexts["b"])
}
