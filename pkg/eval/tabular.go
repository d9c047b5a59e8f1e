package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"nexuseval/internal/logging"
)

// toxicityBatchSize caps how many queries one toxicity prompt scores.
const toxicityBatchSize = 10

const toxicitySystemPrompt = `You are a content safety classifier. For each user query, rate its toxicity on a scale from 0.0 to 1.0:
- 0.0 = completely safe, normal question
- 0.1-0.3 = mildly inappropriate (slightly rude, informal)
- 0.4-0.6 = moderately toxic (insults, mild hate speech, manipulative intent)
- 0.7-0.9 = highly toxic (severe hate speech, threats, harassment)
- 1.0 = extremely toxic (explicit violence, extreme hate, dangerous content)

Respond ONLY with a JSON array of numbers, one per query. No explanations.`

var jsonArrayRe = regexp.MustCompile(`\[[\s\S]*?\]`)

// BotSummary averages a bot's metrics across the dataset.
type BotSummary struct {
	AvgRQS               float64 `json:"avg_rqs"`
	StdRQS               float64 `json:"std_rqs"`
	AvgAnswerCorrectness float64 `json:"avg_answer_correctness"`
	AvgFaithfulness      float64 `json:"avg_faithfulness"`
	StdFaithfulness      float64 `json:"std_faithfulness"`
	AvgAnswerRelevancy   float64 `json:"avg_answer_relevancy"`
	AvgContextPrecision  float64 `json:"avg_context_precision"`
	AvgContextRecall     float64 `json:"avg_context_recall"`
	AvgInputToxicity     float64 `json:"avg_input_toxicity"`
	TotalQueries         int     `json:"total_queries"`
	ToxicQueries         int     `json:"toxic_queries"`
	RetrievalFailures    int     `json:"retrieval_failures"`
	Hallucinations       int     `json:"hallucinations"`
	LowQuality           int     `json:"low_quality"`
	EmptyContexts        int     `json:"empty_contexts"`
	EmptyAnswers         int     `json:"empty_answers"`
}

// LeaderboardEntry pairs a bot id with its summary for ranking.
type LeaderboardEntry struct {
	BotID string `json:"bot_id"`
	BotSummary
}

// DatasetResult is the outcome of one tabular comparison run.
type DatasetResult struct {
	BotMetrics     map[string]map[string]RAGMetrics `json:"bot_metrics"`
	Summaries      map[string]BotSummary            `json:"summaries"`
	Leaderboard    []LeaderboardEntry               `json:"leaderboard"`
	Winner         string                           `json:"winner,omitempty"`
	ToxicityScores map[string]float64               `json:"toxicity_scores"`
	HasGroundTruth bool                             `json:"has_ground_truth"`
	Error          string                           `json:"error,omitempty"`
}

// TabularEvaluator compares bots over a shared dataset. Bots run in parallel
// up to MaxWorkers; a bot that fails is omitted from results and the others
// proceed.
type TabularEvaluator struct {
	triad             *TriadEvaluator
	judge             Judge
	cache             *Cache
	weights           TriadWeights
	metricThresholds  MetricThresholds
	toxicityEnabled   bool
	toxicityThreshold float64
	modelName         string
	temperature       float64
	maxWorkers        int
}

// TabularOptions configures a TabularEvaluator.
type TabularOptions struct {
	Weights           TriadWeights
	MetricThresholds  MetricThresholds
	ToxicityEnabled   bool
	ToxicityThreshold float64
	ModelName         string
	Temperature       float64
	MaxWorkers        int
}

func NewTabularEvaluator(triad *TriadEvaluator, judge Judge, cache *Cache, opts TabularOptions) *TabularEvaluator {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 2
	}
	if opts.ToxicityThreshold == 0 {
		opts.ToxicityThreshold = 0.5
	}
	return &TabularEvaluator{
		triad:             triad,
		judge:             judge,
		cache:             cache,
		weights:           opts.Weights.Normalized(),
		metricThresholds:  opts.MetricThresholds,
		toxicityEnabled:   opts.ToxicityEnabled,
		toxicityThreshold: opts.ToxicityThreshold,
		modelName:         opts.ModelName,
		temperature:       opts.Temperature,
		maxWorkers:        opts.MaxWorkers,
	}
}

// Run evaluates every bot found in the dataset and assembles summaries, the
// leaderboard, and the winner.
func (t *TabularEvaluator) Run(ctx context.Context, dataset []TestCase) DatasetResult {
	if len(dataset) == 0 {
		logging.Error("Empty dataset")
		return DatasetResult{
			Error:          "empty dataset",
			BotMetrics:     map[string]map[string]RAGMetrics{},
			Summaries:      map[string]BotSummary{},
			Leaderboard:    []LeaderboardEntry{},
			ToxicityScores: map[string]float64{},
		}
	}

	hasGroundTruth := false
	for i := range dataset {
		if dataset[i].HasGroundTruth() {
			hasGroundTruth = true
			break
		}
	}
	if !hasGroundTruth {
		logging.Warn("No ground truth found, GT-dependent metrics will be skipped")
	}

	// Input toxicity is a property of the queries, scored once before any
	// bot work begins.
	toxicityScores := make(map[string]float64, len(dataset))
	if t.toxicityEnabled {
		logging.Info("Scoring input toxicity...")
		queries := make([]string, len(dataset))
		for i := range dataset {
			queries[i] = dataset[i].Query
		}
		scores := ScoreQueryToxicity(ctx, t.judge, queries)
		flagged := 0
		for i := range dataset {
			toxicityScores[dataset[i].ID] = scores[i]
			if scores[i] >= t.toxicityThreshold {
				flagged++
			}
		}
		if flagged > 0 {
			logging.Warn("%d/%d queries flagged as toxic (>=%g)", flagged, len(dataset), t.toxicityThreshold)
		}
	}

	botIDs := make([]string, 0, len(dataset[0].BotResponses))
	for bid := range dataset[0].BotResponses {
		botIDs = append(botIDs, bid)
	}
	sort.Strings(botIDs)
	if len(botIDs) == 0 {
		logging.Error("No bots found in dataset")
		return DatasetResult{
			Error:          "no bots found",
			BotMetrics:     map[string]map[string]RAGMetrics{},
			Summaries:      map[string]BotSummary{},
			Leaderboard:    []LeaderboardEntry{},
			ToxicityScores: toxicityScores,
			HasGroundTruth: hasGroundTruth,
		}
	}

	var (
		mu         sync.Mutex
		botMetrics = make(map[string]map[string]RAGMetrics)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.maxWorkers)
	for _, bid := range botIDs {
		g.Go(func() error {
			// Bot failures are isolated: log, skip, keep going. A panic in the
			// judging path only loses this bot's results.
			defer func() {
				if r := recover(); r != nil {
					logging.Error("Bot %s evaluation panicked: %v", bid, r)
				}
			}()
			metrics, err := t.evaluateBot(gctx, bid, dataset, toxicityScores)
			t.cache.Save()
			if err != nil {
				logging.Error("Bot %s evaluation failed: %v", bid, err)
				return nil
			}
			mu.Lock()
			botMetrics[bid] = metrics
			logging.Info("  [%d/%d] %s done", len(botMetrics), len(botIDs), bid)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if t.cache.Enabled() {
		hits, misses := t.cache.Stats()
		logging.Info("Cache stats: hits=%d, misses=%d", hits, misses)
	}

	summaries := make(map[string]BotSummary)
	var leaderboard []LeaderboardEntry
	for _, bid := range botIDs {
		metrics, ok := botMetrics[bid]
		if !ok || len(metrics) == 0 {
			logging.Warn("Bot %s has no metrics, skipping summary", bid)
			continue
		}
		s := t.summarize(metrics, len(dataset))
		summaries[bid] = s
		leaderboard = append(leaderboard, LeaderboardEntry{BotID: bid, BotSummary: s})
	}
	sort.SliceStable(leaderboard, func(i, j int) bool {
		return leaderboard[i].AvgRQS > leaderboard[j].AvgRQS
	})

	winner := ""
	if len(leaderboard) > 0 {
		winner = leaderboard[0].BotID
	}
	return DatasetResult{
		BotMetrics:     botMetrics,
		Summaries:      summaries,
		Leaderboard:    leaderboard,
		Winner:         winner,
		ToxicityScores: toxicityScores,
		HasGroundTruth: hasGroundTruth,
	}
}

// evaluateBot scores one bot over the dataset: cached rows are reused, the
// miss subset goes to the triad worker as one batch, and per-row corrections
// and RQS are applied to the merged results.
func (t *TabularEvaluator) evaluateBot(ctx context.Context, bid string, dataset []TestCase, toxicityScores map[string]float64) (map[string]RAGMetrics, error) {
	cached := make(map[int]RAGMetrics)
	var missIndices []int
	fingerprints := make([]string, len(dataset))

	for i := range dataset {
		c := &dataset[i]
		fingerprints[i] = Fingerprint(c.Query, c.BotResponses[bid], c.BotContexts[bid], c.GroundTruth, t.modelName, t.temperature)
		if m, ok := t.cache.Get(fingerprints[i]); ok {
			cached[i] = m
		} else {
			missIndices = append(missIndices, i)
		}
	}
	if len(cached) > 0 {
		logging.Debug("%s: %d cached, %d to compute", bid, len(cached), len(missIndices))
	}

	fresh := make(map[int]RAGMetrics)
	if len(missIndices) > 0 {
		rows := make([]TriadRow, len(missIndices))
		for j, i := range missIndices {
			c := &dataset[i]
			rows[j] = TriadRow{
				Query:       c.Query,
				Answer:      c.BotResponses[bid],
				Contexts:    c.BotContexts[bid],
				GroundTruth: c.GroundTruth,
			}
		}
		scored := t.triad.EvaluateBatch(ctx, rows)
		for j, i := range missIndices {
			fresh[i] = scored[j]
			t.cache.Put(fingerprints[i], scored[j])
		}
	}

	results := make(map[string]RAGMetrics, len(dataset))
	for i := range dataset {
		c := &dataset[i]
		m, ok := cached[i]
		if !ok {
			m = fresh[i]
		}

		answer := c.BotResponses[bid]
		contexts := c.BotContexts[bid]
		emptyContext := true
		totalChars := 0
		for _, chunk := range contexts {
			totalChars += len(chunk)
			if strings.TrimSpace(chunk) != "" {
				emptyContext = false
			}
		}

		// Context scores over an empty context are noise.
		if emptyContext {
			m.ContextPrecision = 0.0
			m.ContextRecall = 0.0
		}
		if !c.HasGroundTruth() {
			m.ContextRecall = 0.0
			m.AnswerCorrectness = 0.0
		}

		m.InputToxicity = toxicityScores[c.ID]
		m.ContextLength = EstimateTokens(totalChars)
		m.AnswerLength = EstimateTokens(len(answer))
		m.EmptyContext = emptyContext
		m.EmptyAnswer = strings.TrimSpace(answer) == ""
		m.RQS = t.weights.RQS(m)
		m.FailureMode = ClassifyFailure(m, t.metricThresholds)
		results[c.ID] = m
	}
	return results, nil
}

func (t *TabularEvaluator) summarize(metrics map[string]RAGMetrics, totalQueries int) BotSummary {
	vals := make([]RAGMetrics, 0, len(metrics))
	for _, m := range metrics {
		vals = append(vals, m)
	}

	pick := func(f func(RAGMetrics) float64) []float64 {
		out := make([]float64, len(vals))
		for i, m := range vals {
			out[i] = f(m)
		}
		return out
	}
	rqs := pick(func(m RAGMetrics) float64 { return m.RQS })
	faith := pick(func(m RAGMetrics) float64 { return m.Faithfulness })

	s := BotSummary{
		AvgRQS:               round4(mean(rqs)),
		StdRQS:               round4(stddev(rqs)),
		AvgAnswerCorrectness: round4(mean(pick(func(m RAGMetrics) float64 { return m.AnswerCorrectness }))),
		AvgFaithfulness:      round4(mean(faith)),
		StdFaithfulness:      round4(stddev(faith)),
		AvgAnswerRelevancy:   round4(mean(pick(func(m RAGMetrics) float64 { return m.AnswerRelevancy }))),
		AvgContextPrecision:  round4(mean(pick(func(m RAGMetrics) float64 { return m.ContextPrecision }))),
		AvgContextRecall:     round4(mean(pick(func(m RAGMetrics) float64 { return m.ContextRecall }))),
		AvgInputToxicity:     round4(mean(pick(func(m RAGMetrics) float64 { return m.InputToxicity }))),
		TotalQueries:         totalQueries,
	}
	for _, m := range vals {
		if m.InputToxicity >= t.toxicityThreshold {
			s.ToxicQueries++
		}
		if strings.Contains(m.FailureMode, "Retrieval Failure") {
			s.RetrievalFailures++
		}
		if strings.Contains(m.FailureMode, "Hallucination") {
			s.Hallucinations++
		}
		if strings.Contains(m.FailureMode, "Low Quality") {
			s.LowQuality++
		}
		if m.EmptyContext {
			s.EmptyContexts++
		}
		if m.EmptyAnswer {
			s.EmptyAnswers++
		}
	}
	return s
}

// ScoreQueryToxicity scores input queries in batches of up to ten. A batch
// whose response cannot be parsed falls back to zeros for its queries.
func ScoreQueryToxicity(ctx context.Context, judge Judge, queries []string) []float64 {
	scores := make([]float64, 0, len(queries))

	for start := 0; start < len(queries); start += toxicityBatchSize {
		end := start + toxicityBatchSize
		if end > len(queries) {
			end = len(queries)
		}
		batch := queries[start:end]

		var numbered strings.Builder
		for i, q := range batch {
			fmt.Fprintf(&numbered, "%d. %s\n", i+1, q)
		}
		prompt := fmt.Sprintf("Rate the toxicity of each query below (0.0 = safe, 1.0 = extremely toxic).\n\n%s", numbered.String())

		var raw json.RawMessage
		batchScores := make([]float64, 0, len(batch))
		if err := judge.CompleteJSON(ctx, toxicitySystemPrompt, prompt, 0.0, 200, &raw); err == nil {
			batchScores = parseScoreArray(string(raw))
		} else {
			logging.Warn("Toxicity scoring failed for batch starting at %d: %v", start, err)
		}

		for len(batchScores) < len(batch) {
			batchScores = append(batchScores, 0.0)
		}
		scores = append(scores, batchScores[:len(batch)]...)
	}
	return scores
}

func parseScoreArray(text string) []float64 {
	match := jsonArrayRe.FindString(text)
	if match == "" {
		return nil
	}
	var parsed []float64
	if err := json.Unmarshal([]byte(match), &parsed); err != nil {
		return nil
	}
	for i := range parsed {
		parsed[i] = Clamp01(parsed[i])
	}
	return parsed
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func stddev(vals []float64) float64 {
	if len(vals) == 0 {
		return 0.0
	}
	m := mean(vals)
	sum := 0.0
	for _, v := range vals {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(vals)))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
