// Package eval contains the evaluation core: input normalization, the
// four-phase structured-output grader, the RAG metric family, dataset
// comparison across bots, and the orchestrator that ties them to persistence
// and progress events.
package eval

import (
	"math"
)

// Matching strategies for structured field comparison.
const (
	StrategyExact    = "EXACT"
	StrategyFuzzy    = "FUZZY"
	StrategySemantic = "SEMANTIC"
	StrategyIgnore   = "IGNORE"
)

// Expected-type tags for ground-truth values.
const (
	TypeText   = "text"
	TypeNumber = "number"
	TypeEmail  = "email"
	TypeDate   = "date"
	TypeJSON   = "json"
	TypeExact  = "exact"
)

// RAG metric names.
const (
	MetricFaithfulness      = "faithfulness"
	MetricAnswerRelevancy   = "answer_relevancy"
	MetricContextPrecision  = "context_precision"
	MetricContextRecall     = "context_recall"
	MetricAnswerCorrectness = "answer_correctness"
)

// TestCase is one dataset row: a query, per-bot answers and retrieval
// contexts, and an optional ground truth. Immutable once loaded.
type TestCase struct {
	ID           string              `json:"id"`
	Query        string              `json:"query"`
	GroundTruth  string              `json:"ground_truth,omitempty"`
	ExpectedType string              `json:"expected_type,omitempty"`
	BotResponses map[string]string   `json:"bot_responses"`
	BotContexts  map[string][]string `json:"bot_contexts"`
}

// HasGroundTruth reports whether the row carries a usable ground truth.
func (c *TestCase) HasGroundTruth() bool {
	return trimmedNonEmpty(c.GroundTruth)
}

// RAGMetrics is the per-(bot, test case) metric bundle.
type RAGMetrics struct {
	Faithfulness      float64 `json:"faithfulness"`
	AnswerRelevancy   float64 `json:"answer_relevancy"`
	ContextRecall     float64 `json:"context_recall"`
	ContextPrecision  float64 `json:"context_precision"`
	AnswerCorrectness float64 `json:"answer_correctness"`
	InputToxicity     float64 `json:"input_toxicity"`
	RQS               float64 `json:"rqs"`

	// Diagnostics
	ContextLength int    `json:"context_length"`
	AnswerLength  int    `json:"answer_length"`
	EmptyContext  bool   `json:"empty_context"`
	EmptyAnswer   bool   `json:"empty_answer"`
	FailureMode   string `json:"failure_mode,omitempty"`
}

// TriadWeights weight the five RAG metrics in the tabular RQS.
type TriadWeights struct {
	AnswerCorrectness float64 `json:"answer_correctness"`
	Faithfulness      float64 `json:"faithfulness"`
	AnswerRelevancy   float64 `json:"answer_relevancy"`
	ContextPrecision  float64 `json:"context_precision"`
	ContextRecall     float64 `json:"context_recall"`
}

// DefaultTriadWeights favor correctness, then faithfulness and relevancy.
func DefaultTriadWeights() TriadWeights {
	return TriadWeights{
		AnswerCorrectness: 0.35,
		Faithfulness:      0.25,
		AnswerRelevancy:   0.25,
		ContextPrecision:  0.075,
		ContextRecall:     0.075,
	}
}

// Normalized scales the weights to sum to 1. An all-zero vector falls back
// to equal shares; a single zero weight renormalizes the rest, it does not
// preserve the other metrics' absolute contributions.
func (w TriadWeights) Normalized() TriadWeights {
	total := w.AnswerCorrectness + w.Faithfulness + w.AnswerRelevancy + w.ContextPrecision + w.ContextRecall
	if total < 1e-6 {
		return TriadWeights{
			AnswerCorrectness: 0.2,
			Faithfulness:      0.2,
			AnswerRelevancy:   0.2,
			ContextPrecision:  0.2,
			ContextRecall:     0.2,
		}
	}
	return TriadWeights{
		AnswerCorrectness: w.AnswerCorrectness / total,
		Faithfulness:      w.Faithfulness / total,
		AnswerRelevancy:   w.AnswerRelevancy / total,
		ContextPrecision:  w.ContextPrecision / total,
		ContextRecall:     w.ContextRecall / total,
	}
}

// RQS computes the weighted composite for one metric bundle, rounded to four
// decimals. Weights are normalized before use, so the result stays in [0,1].
func (w TriadWeights) RQS(m RAGMetrics) float64 {
	n := w.Normalized()
	score := n.AnswerCorrectness*m.AnswerCorrectness +
		n.Faithfulness*m.Faithfulness +
		n.AnswerRelevancy*m.AnswerRelevancy +
		n.ContextPrecision*m.ContextPrecision +
		n.ContextRecall*m.ContextRecall
	return math.Round(Clamp01(score)*10000) / 10000
}

// JSONWeights weight the structured-output composite. Hallucination
// subtracts from the score while the others add.
type JSONWeights struct {
	Accuracy      float64 `json:"w_accuracy"`
	Completeness  float64 `json:"w_completeness"`
	Hallucination float64 `json:"w_hallucination"`
	Safety        float64 `json:"w_safety"`
}

func DefaultJSONWeights() JSONWeights {
	return JSONWeights{
		Accuracy:      0.45,
		Completeness:  0.25,
		Hallucination: 0.15,
		Safety:        0.15,
	}
}

// RQS computes clamp01(w_a*accuracy + w_c*completeness + w_s*safety - w_h*hallucination).
func (w JSONWeights) RQS(accuracy, completeness, hallucination, safety float64) float64 {
	return Clamp01(w.Accuracy*accuracy + w.Completeness*completeness + w.Safety*safety - w.Hallucination*hallucination)
}

// FieldScore is one field-level comparison from the structured grader.
type FieldScore struct {
	Field      string  `json:"field"`
	Strategy   string  `json:"strategy"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	Expected   string  `json:"expected"`
	Actual     string  `json:"actual"`
}

// JSONEvaluation is the outcome of the four-phase grader for one GT/AIO pair.
type JSONEvaluation struct {
	Completeness float64 `json:"completeness"`
	// Hallucination here is the share of unexpected keys among active keys
	// (json_hallucination_share), distinct from the batch-level rate of
	// hallucinated outputs that the hallucination threshold applies to.
	Hallucination float64      `json:"hallucination"`
	Accuracy      float64      `json:"accuracy"`
	SafetyScore   *float64     `json:"safety_score,omitempty"`
	Toxicity      *float64     `json:"toxicity,omitempty"`
	RQS           float64      `json:"rqs"`
	FieldScores   []FieldScore `json:"field_scores"`
	MissingFields []string     `json:"missing_fields,omitempty"`
	ExtraFields   []string     `json:"extra_fields,omitempty"`
}

// OutputDetail describes one evaluation of one candidate answer.
type OutputDetail struct {
	QueryID       string   `json:"query_id"`
	RunID         string   `json:"run_id"`
	MatchType     string   `json:"match_type"`
	Accuracy      float64  `json:"accuracy"`
	ActualOutput  string   `json:"actual_output"`
	ExpectedText  string   `json:"expected_text"`
	SemanticScore float64  `json:"semantic_score"`
	SafetyScore   *float64 `json:"safety_score,omitempty"`
	Toxicity      *float64 `json:"toxicity,omitempty"`
	Completeness  float64  `json:"completeness"`
	// Hallucination carries the structured grader's key share for json
	// match types; a scalar output with no ground truth to compare
	// against scores 1.0, everything else 0.
	Hallucination float64      `json:"hallucination"`
	RQS           float64      `json:"rqs"`
	ErrorType     string       `json:"error_type"`
	FieldScores   []FieldScore `json:"field_scores,omitempty"`
	MissingFields []string     `json:"missing_fields,omitempty"`
	ExtraFields   []string     `json:"extra_fields,omitempty"`
}

// Thresholds gate the batch-level PASS/FAIL decision and field similarity
// scoring.
type Thresholds struct {
	Accuracy      float64 `json:"accuracy_threshold"`
	Consistency   float64 `json:"consistency_threshold"`
	Hallucination float64 `json:"hallucination_threshold"`
	RQS           float64 `json:"rqs_threshold"`
	Semantic      float64 `json:"semantic_threshold"`
	Fuzzy         float64 `json:"fuzzy_threshold"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Accuracy:      0.5,
		Consistency:   0.5,
		Hallucination: 0.5,
		RQS:           0.5,
		Semantic:      0.5,
		Fuzzy:         0.5,
	}
}

// MetricThresholds drive the tabular failure-mode classifier.
type MetricThresholds struct {
	ContextRecall     float64 `json:"context_recall"`
	ContextPrecision  float64 `json:"context_precision"`
	Faithfulness      float64 `json:"faithfulness"`
	AnswerRelevancy   float64 `json:"answer_relevancy"`
	AnswerCorrectness float64 `json:"answer_correctness"`
}

func DefaultMetricThresholds() MetricThresholds {
	return MetricThresholds{
		ContextRecall:     0.3,
		ContextPrecision:  0.3,
		Faithfulness:      0.3,
		AnswerRelevancy:   0.3,
		AnswerCorrectness: 0.3,
	}
}

// ClassifyFailure derives the failure-mode label for one metric bundle.
// Multiple simultaneous failures are joined with " | ".
func ClassifyFailure(m RAGMetrics, t MetricThresholds) string {
	var failures []string
	if m.ContextRecall < t.ContextRecall && m.ContextPrecision < t.ContextPrecision {
		failures = append(failures, "Retrieval Failure")
	}
	if m.Faithfulness < t.Faithfulness {
		failures = append(failures, "Hallucination")
	}
	if m.AnswerRelevancy < t.AnswerRelevancy || m.AnswerCorrectness < t.AnswerCorrectness {
		failures = append(failures, "Low Quality")
	}
	if len(failures) == 0 {
		return "OK"
	}
	return joinFailures(failures)
}

func joinFailures(failures []string) string {
	out := failures[0]
	for _, f := range failures[1:] {
		out += " | " + f
	}
	return out
}

// Clamp01 clamps to [0,1], mapping non-finite values to 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0.0
	}
	return math.Max(0.0, math.Min(1.0, v))
}

// EstimateTokens approximates token count at 4 characters per token.
func EstimateTokens(chars int) int {
	return chars / 4
}

func trimmedNonEmpty(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}
