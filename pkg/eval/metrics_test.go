package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExactMatchText(t *testing.T) {
	assert.Equal(t, 1.0, ExactMatch("  Hello ", "hello", TypeText))
	assert.Equal(t, 0.0, ExactMatch("hello", "world", TypeText))
}

func TestExactMatchNumberTolerance(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		reference string
		expected  float64
	}{
		{"currency formatting", "$1,000", "1000.0", 1.0},
		{"within one percent", "100.5", "100", 1.0},
		{"outside one percent", "102", "100", 0.0},
		{"not numeric", "abc", "100", 0.0},
		{"scientific", "1e3", "1000", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExactMatch(tt.candidate, tt.reference, TypeNumber))
		})
	}
}

func TestExactMatchEmailNormalization(t *testing.T) {
	assert.Equal(t, 1.0, ExactMatch("Alice at example dot com", "alice@example.com", TypeEmail))
	assert.Equal(t, 1.0, ExactMatch("bob(at)example.com", "bob@example.com", TypeEmail))
	assert.Equal(t, 1.0, ExactMatch("carol[at]example.com", "carol@example.com", TypeEmail))
	assert.Equal(t, 0.0, ExactMatch("dave@example.com", "eve@example.com", TypeEmail))
}

func TestExactMatchDate(t *testing.T) {
	assert.Equal(t, 1.0, ExactMatch(" 2024-01-02 ", "2024-01-02", TypeDate))
	assert.Equal(t, 0.0, ExactMatch("2024-01-02", "2024-01-03", TypeDate))
}

func TestExactCollapsedMatch(t *testing.T) {
	assert.True(t, ExactCollapsedMatch("Hello   World", "hello world"))
	assert.True(t, ExactCollapsedMatch("  a\tb\nc ", "A B C"))
	assert.False(t, ExactCollapsedMatch("ab", "a b"))
}

func TestClassifyFailure(t *testing.T) {
	th := DefaultMetricThresholds()
	ok := RAGMetrics{Faithfulness: 0.9, AnswerRelevancy: 0.9, ContextPrecision: 0.9, ContextRecall: 0.9, AnswerCorrectness: 0.9}
	assert.Equal(t, "OK", ClassifyFailure(ok, th))

	retrieval := ok
	retrieval.ContextRecall = 0.1
	retrieval.ContextPrecision = 0.1
	assert.Equal(t, "Retrieval Failure", ClassifyFailure(retrieval, th))

	// One low context metric alone is not a retrieval failure.
	oneLow := ok
	oneLow.ContextRecall = 0.1
	assert.Equal(t, "OK", ClassifyFailure(oneLow, th))

	everything := RAGMetrics{}
	assert.Equal(t, "Retrieval Failure | Hallucination | Low Quality", ClassifyFailure(everything, th))
}

func TestTriadWeightsNormalized(t *testing.T) {
	n := DefaultTriadWeights().Normalized()
	sum := n.AnswerCorrectness + n.Faithfulness + n.AnswerRelevancy + n.ContextPrecision + n.ContextRecall
	assert.InDelta(t, 1.0, sum, 1e-9)

	zero := TriadWeights{}.Normalized()
	assert.InDelta(t, 0.2, zero.AnswerCorrectness, 1e-9)
	assert.InDelta(t, 0.2, zero.ContextRecall, 1e-9)
}

func TestTriadRQSWeightedFormula(t *testing.T) {
	w := TriadWeights{AnswerCorrectness: 1.0}
	m := RAGMetrics{AnswerCorrectness: 0.8, Faithfulness: 0.1}
	assert.InDelta(t, 0.8, w.RQS(m), 1e-6)

	// Zeroing one weight renormalizes the rest.
	partial := TriadWeights{AnswerCorrectness: 0.5, Faithfulness: 0.5}
	m2 := RAGMetrics{AnswerCorrectness: 1.0, Faithfulness: 0.0}
	assert.InDelta(t, 0.5, partial.RQS(m2), 1e-6)
}

func TestJSONWeightsRQS(t *testing.T) {
	w := DefaultJSONWeights()
	rqs := w.RQS(1.0, 1.0, 0.0, 1.0)
	assert.InDelta(t, 0.85, rqs, 1e-9)

	// Hallucination subtracts and the result clamps at zero.
	assert.Equal(t, 0.0, w.RQS(0.0, 0.0, 1.0, 0.0))
}
