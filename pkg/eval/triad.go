package eval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"nexuseval/internal/logging"
)

// Judge is the LLM-as-judge surface for the RAG metric family.
type Judge interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, out interface{}) error
}

// TriadRow is one (question, answer, contexts, ground truth) record submitted
// for RAG metric scoring.
type TriadRow struct {
	Query       string
	Answer      string
	Contexts    []string
	GroundTruth string
}

// TriadEvaluator scores a dataset of rows on the RAG metric family:
// faithfulness, answer relevancy, context precision, context recall, and
// answer correctness. Rows run concurrently up to the configured limit; each
// metric failure degrades to 0.0 and logs rather than aborting the batch.
type TriadEvaluator struct {
	judge Judge
	limit int
}

func NewTriadEvaluator(judge Judge, limit int) *TriadEvaluator {
	if limit <= 0 {
		limit = 4
	}
	return &TriadEvaluator{judge: judge, limit: limit}
}

// EvaluateBatch returns raw metric bundles for every row, in input order.
// Ground-truth-dependent metrics (context_recall, answer_correctness) are
// skipped per-row when the row has no ground truth; context-dependent
// metrics are skipped when the row has no context chunks.
func (t *TriadEvaluator) EvaluateBatch(ctx context.Context, rows []TriadRow) []RAGMetrics {
	results := make([]RAGMetrics, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.limit)
	for i := range rows {
		g.Go(func() error {
			results[i] = t.evaluateRow(gctx, rows[i])
			return nil
		})
	}
	// Workers never return errors; metric failures are contained per-row.
	_ = g.Wait()
	return results
}

func (t *TriadEvaluator) evaluateRow(ctx context.Context, row TriadRow) RAGMetrics {
	hasContext := false
	for _, c := range row.Contexts {
		if strings.TrimSpace(c) != "" {
			hasContext = true
			break
		}
	}
	hasGT := trimmedNonEmpty(row.GroundTruth)

	var m RAGMetrics
	if hasContext {
		m.Faithfulness = t.faithfulness(ctx, row)
		m.ContextPrecision = t.contextPrecision(ctx, row)
		if hasGT {
			m.ContextRecall = t.contextRecall(ctx, row)
		}
	}
	m.AnswerRelevancy = t.answerRelevancy(ctx, row)
	if hasGT {
		m.AnswerCorrectness = t.answerCorrectness(ctx, row)
	}
	return m
}

const judgeSystemPrompt = "You are a strict RAG evaluation judge. Respond ONLY with JSON."

// ============================================================================
// Faithfulness
// ============================================================================
// Extracts claims from the answer and checks each against the contexts.
// Score is the supported share, with partial support counting half.

type faithfulnessResponse struct {
	Claims []struct {
		Claim     string `json:"claim"`
		Supported string `json:"supported"`
	} `json:"claims"`
}

func (t *TriadEvaluator) faithfulness(ctx context.Context, row TriadRow) float64 {
	prompt := fmt.Sprintf(`Extract the key factual claims from the ANSWER and judge whether each is supported by the CONTEXTS.

QUESTION:
%s

CONTEXTS:
%s

ANSWER:
%s

Return ONLY JSON: {"claims": [{"claim": "<claim>", "supported": "<yes|partial|no>"}]}`,
		row.Query, numberedContexts(row.Contexts), truncateText(row.Answer, 2000))

	var resp faithfulnessResponse
	if err := t.judge.CompleteJSON(ctx, judgeSystemPrompt, prompt, 0.0, 800, &resp); err != nil {
		logging.Warn("Faithfulness judging failed, using 0.0: %v", err)
		return 0.0
	}
	if len(resp.Claims) == 0 {
		return 1.0
	}
	supported := 0.0
	for _, c := range resp.Claims {
		switch strings.ToLower(c.Supported) {
		case "yes":
			supported += 1.0
		case "partial":
			supported += 0.5
		}
	}
	return Clamp01(supported / float64(len(resp.Claims)))
}

// ============================================================================
// Answer relevancy
// ============================================================================
// Splits the answer into statements and counts how many address the question.

type relevancyResponse struct {
	Statements []struct {
		Statement string `json:"statement"`
		Verdict   string `json:"verdict"`
	} `json:"statements"`
}

func (t *TriadEvaluator) answerRelevancy(ctx context.Context, row TriadRow) float64 {
	prompt := fmt.Sprintf(`Break the ANSWER into individual statements and judge whether each one addresses the QUESTION.

QUESTION:
%s

ANSWER:
%s

Return ONLY JSON: {"statements": [{"statement": "<statement>", "verdict": "<yes|no|idk>"}]}`,
		row.Query, truncateText(row.Answer, 2000))

	var resp relevancyResponse
	if err := t.judge.CompleteJSON(ctx, judgeSystemPrompt, prompt, 0.0, 800, &resp); err != nil {
		logging.Warn("Relevancy judging failed, using 0.0: %v", err)
		return 0.0
	}
	if len(resp.Statements) == 0 {
		return 0.0
	}
	relevant := 0.0
	for _, s := range resp.Statements {
		switch strings.ToLower(s.Verdict) {
		case "yes":
			relevant += 1.0
		case "idk":
			relevant += 0.5
		}
	}
	return Clamp01(relevant / float64(len(resp.Statements)))
}

// ============================================================================
// Context precision
// ============================================================================
// Judges each retrieved chunk for usefulness in answering the question, then
// scores mean precision@k over the useful chunks so that useful chunks ranked
// early count more.

type precisionResponse struct {
	Verdicts []struct {
		Chunk  int    `json:"chunk"`
		Useful string `json:"useful"`
	} `json:"verdicts"`
}

func (t *TriadEvaluator) contextPrecision(ctx context.Context, row TriadRow) float64 {
	prompt := fmt.Sprintf(`For each CONTEXT chunk, judge whether it is useful for answering the QUESTION.

QUESTION:
%s

CONTEXTS:
%s

Return ONLY JSON with one verdict per chunk, in order: {"verdicts": [{"chunk": <1-indexed>, "useful": "<yes|no>"}]}`,
		row.Query, numberedContexts(row.Contexts))

	var resp precisionResponse
	if err := t.judge.CompleteJSON(ctx, judgeSystemPrompt, prompt, 0.0, 600, &resp); err != nil {
		logging.Warn("Context precision judging failed, using 0.0: %v", err)
		return 0.0
	}
	if len(resp.Verdicts) == 0 {
		return 0.0
	}

	usefulSoFar := 0
	precisionSum := 0.0
	usefulTotal := 0
	for k, v := range resp.Verdicts {
		if strings.EqualFold(v.Useful, "yes") {
			usefulSoFar++
			usefulTotal++
			precisionSum += float64(usefulSoFar) / float64(k+1)
		}
	}
	if usefulTotal == 0 {
		return 0.0
	}
	return Clamp01(precisionSum / float64(usefulTotal))
}

// ============================================================================
// Context recall
// ============================================================================
// Judges whether each ground-truth sentence can be attributed to the
// retrieved contexts.

type recallResponse struct {
	Sentences []struct {
		Sentence     string `json:"sentence"`
		Attributable string `json:"attributable"`
	} `json:"sentences"`
}

func (t *TriadEvaluator) contextRecall(ctx context.Context, row TriadRow) float64 {
	prompt := fmt.Sprintf(`Break the GROUND TRUTH into sentences and judge whether each can be attributed to the CONTEXTS.

GROUND TRUTH:
%s

CONTEXTS:
%s

Return ONLY JSON: {"sentences": [{"sentence": "<sentence>", "attributable": "<yes|no>"}]}`,
		truncateText(row.GroundTruth, 2000), numberedContexts(row.Contexts))

	var resp recallResponse
	if err := t.judge.CompleteJSON(ctx, judgeSystemPrompt, prompt, 0.0, 800, &resp); err != nil {
		logging.Warn("Context recall judging failed, using 0.0: %v", err)
		return 0.0
	}
	if len(resp.Sentences) == 0 {
		return 0.0
	}
	attributed := 0
	for _, s := range resp.Sentences {
		if strings.EqualFold(s.Attributable, "yes") {
			attributed++
		}
	}
	return Clamp01(float64(attributed) / float64(len(resp.Sentences)))
}

// ============================================================================
// Answer correctness
// ============================================================================
// Classifies answer statements against the ground truth into true positives,
// false positives, and false negatives, scored as an F1.

type correctnessResponse struct {
	TruePositives  []string `json:"tp"`
	FalsePositives []string `json:"fp"`
	FalseNegatives []string `json:"fn"`
}

func (t *TriadEvaluator) answerCorrectness(ctx context.Context, row TriadRow) float64 {
	prompt := fmt.Sprintf(`Compare the ANSWER against the GROUND TRUTH. Classify statements into:
- "tp": statements in the answer that are present in the ground truth
- "fp": statements in the answer that are absent from the ground truth
- "fn": statements in the ground truth that are missing from the answer

QUESTION:
%s

GROUND TRUTH:
%s

ANSWER:
%s

Return ONLY JSON: {"tp": ["<statement>"], "fp": ["<statement>"], "fn": ["<statement>"]}`,
		row.Query, truncateText(row.GroundTruth, 2000), truncateText(row.Answer, 2000))

	var resp correctnessResponse
	if err := t.judge.CompleteJSON(ctx, judgeSystemPrompt, prompt, 0.0, 800, &resp); err != nil {
		logging.Warn("Answer correctness judging failed, using 0.0: %v", err)
		return 0.0
	}
	tp := float64(len(resp.TruePositives))
	fp := float64(len(resp.FalsePositives))
	fn := float64(len(resp.FalseNegatives))
	if tp+fp+fn == 0 {
		return 1.0
	}
	return Clamp01(tp / (tp + 0.5*(fp+fn)))
}

func numberedContexts(contexts []string) string {
	var b strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, truncateText(c, 500))
	}
	return b.String()
}

func truncateText(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
