package eval

import (
	"context"
	"sort"
	"strings"

	"nexuseval/pkg/llm"
)

// Scorer is the slice of the LLM gateway the evaluators need. Implementations
// never fail; they degrade to fallback scores.
type Scorer interface {
	SemanticSimilarity(ctx context.Context, textA, textB string) float64
	FuzzySimilarity(ctx context.Context, textA, textB string) float64
	Toxicity(ctx context.Context, text string) llm.ToxicityResult
	Consistency(ctx context.Context, outputs []string) float64
}

// JSONEvaluator grades one candidate object against a ground-truth object in
// four phases: key classification, completeness, hallucination share, and
// per-field accuracy, with an optional safety pass over the whole candidate.
type JSONEvaluator struct {
	scorer       Scorer
	thresholds   Thresholds
	weights      JSONWeights
	enableSafety bool
}

func NewJSONEvaluator(scorer Scorer, thresholds Thresholds, weights JSONWeights, enableSafety bool) *JSONEvaluator {
	return &JSONEvaluator{
		scorer:       scorer,
		thresholds:   thresholds,
		weights:      weights,
		enableSafety: enableSafety,
	}
}

// Evaluate runs the four phases over two flattened objects. IGNORE keys are
// removed before any counting and appear in no numerator, denominator, or
// field score.
func (e *JSONEvaluator) Evaluate(ctx context.Context, gt, aio map[string]interface{}, strategies StrategyMap) JSONEvaluation {
	// Phase 0: classify the union of keys.
	active := make([]string, 0, len(gt)+len(aio))
	seen := make(map[string]bool, len(gt)+len(aio))
	for key := range gt {
		seen[key] = true
	}
	for key := range aio {
		seen[key] = true
	}
	for key := range seen {
		if strategies[key] == StrategyIgnore {
			continue
		}
		active = append(active, key)
	}
	sort.Strings(active)

	var (
		extra           []string
		gtNullAIOValue  []string
		gtNonNull       []string
		bothNonNull     []string
		aioMissingOrNil []string
	)
	for _, key := range active {
		gtVal, inGT := gt[key]
		aioVal, inAIO := aio[key]
		gtNull := !inGT || isNullValue(gtVal)
		aioNull := !inAIO || isNullValue(aioVal)

		switch {
		case !inGT && inAIO:
			extra = append(extra, key)
		case gtNull && !aioNull:
			gtNullAIOValue = append(gtNullAIOValue, key)
		case !gtNull:
			gtNonNull = append(gtNonNull, key)
			if !aioNull {
				bothNonNull = append(bothNonNull, key)
			} else {
				aioMissingOrNil = append(aioMissingOrNil, key)
			}
		}
	}

	// Phase 1: completeness.
	completeness := 1.0
	if len(gtNonNull) > 0 {
		completeness = float64(len(bothNonNull)) / float64(len(gtNonNull))
	}

	// Phase 2: hallucination share over active keys.
	hallucination := 0.0
	if len(active) > 0 {
		hallucination = float64(len(extra)+len(gtNullAIOValue)) / float64(len(active))
	}

	// Phase 3: per-field accuracy.
	fieldScores := make([]FieldScore, 0, len(bothNonNull))
	accuracySum := 0.0
	for _, key := range bothNonNull {
		fs := e.scoreField(ctx, key, gt[key], aio[key], strategies)
		accuracySum += fs.Score
		fieldScores = append(fieldScores, fs)
	}
	accuracy := 1.0
	if len(fieldScores) > 0 {
		accuracy = accuracySum / float64(len(fieldScores))
	}

	result := JSONEvaluation{
		Completeness:  completeness,
		Hallucination: hallucination,
		Accuracy:      accuracy,
		FieldScores:   fieldScores,
		MissingFields: aioMissingOrNil,
		ExtraFields:   extra,
	}

	// Phase 4: optional safety over the serialized candidate.
	safety := 0.0
	if e.enableSafety {
		tox := e.scorer.Toxicity(ctx, CanonicalJSON(aio))
		safety = tox.SafetyScore
		result.SafetyScore = &safety
		result.Toxicity = &tox.ToxicityScore
	}

	result.RQS = e.weights.RQS(accuracy, completeness, hallucination, safety)
	return result
}

func (e *JSONEvaluator) scoreField(ctx context.Context, key string, gtVal, aioVal interface{}, strategies StrategyMap) FieldScore {
	strategy := strategies.Resolve(key, gtVal)
	expected := NormalizeLeaf(gtVal)
	actual := NormalizeLeaf(aioVal)

	fs := FieldScore{
		Field:    key,
		Strategy: strings.ToLower(strategy),
		Expected: expected,
		Actual:   actual,
	}

	switch strategy {
	case StrategyIgnore:
		fs.Score, fs.Similarity = 1.0, 1.0
	case StrategyFuzzy:
		fs.Similarity = e.scorer.FuzzySimilarity(ctx, actual, expected)
		if fs.Similarity >= e.thresholds.Fuzzy {
			fs.Score = 1.0
		}
	case StrategySemantic:
		fs.Similarity = e.scorer.SemanticSimilarity(ctx, actual, expected)
		if fs.Similarity >= e.thresholds.Semantic {
			fs.Score = 1.0
		}
	default: // EXACT
		if exactValueMatch(gtVal, aioVal) {
			fs.Score, fs.Similarity = 1.0, 1.0
		}
	}
	return fs
}

// exactValueMatch compares structural values by canonical JSON and scalars by
// trimmed lowercase equality.
func exactValueMatch(gtVal, aioVal interface{}) bool {
	if isStructural(gtVal) || isStructural(aioVal) {
		return CanonicalJSON(gtVal) == CanonicalJSON(aioVal)
	}
	return strings.EqualFold(
		strings.TrimSpace(NormalizeLeaf(gtVal)),
		strings.TrimSpace(NormalizeLeaf(aioVal)),
	)
}

func isStructural(v interface{}) bool {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		return true
	}
	return false
}

// isNullValue treats literal null and whitespace-only strings as absent.
func isNullValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}
