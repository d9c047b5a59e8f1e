package eval

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compareJudge extends the perfect judge with an answer-sensitive correctness
// verdict so two bots can score differently on the same dataset.
type compareJudge struct {
	*scriptedJudge
}

func (j *compareJudge) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, out interface{}) error {
	if strings.Contains(userPrompt, "Compare the ANSWER against the GROUND TRUTH") {
		payload := `{"tp": ["Paris"], "fp": [], "fn": []}`
		if strings.Contains(userPrompt, "wrong city") {
			payload = `{"tp": [], "fp": ["wrong city"], "fn": ["Paris"]}`
		}
		return json.Unmarshal([]byte(payload), out)
	}
	return j.scriptedJudge.CompleteJSON(ctx, systemPrompt, userPrompt, temperature, maxTokens, out)
}

func newTestTabular(judge Judge, toxic bool) *TabularEvaluator {
	triad := NewTriadEvaluator(judge, 2)
	cache := NewCache(afero.NewMemMapFs(), "/cache.json", true)
	return NewTabularEvaluator(triad, judge, cache, TabularOptions{
		Weights:          DefaultTriadWeights(),
		MetricThresholds: DefaultMetricThresholds(),
		ToxicityEnabled:  toxic,
		ModelName:        "test-model",
		MaxWorkers:       2,
	})
}

func twoBotDataset() []TestCase {
	return []TestCase{
		{
			ID:          "q1",
			Query:       "What is the capital of France?",
			GroundTruth: "Paris.",
			BotResponses: map[string]string{
				"bot_a": "Paris is the capital of France.",
				"bot_b": "The wrong city is the capital.",
			},
			BotContexts: map[string][]string{
				"bot_a": {"Paris has been the capital of France since 508."},
				"bot_b": {"Paris has been the capital of France since 508."},
			},
		},
	}
}

func TestRunEmptyDataset(t *testing.T) {
	tab := newTestTabular(newPerfectJudge(), false)
	res := tab.Run(context.Background(), nil)

	assert.Equal(t, "empty dataset", res.Error)
	assert.NotNil(t, res.BotMetrics)
	assert.NotNil(t, res.Summaries)
	assert.NotNil(t, res.Leaderboard)
	assert.Empty(t, res.BotMetrics)
}

func TestRunNoBots(t *testing.T) {
	tab := newTestTabular(newPerfectJudge(), false)
	res := tab.Run(context.Background(), []TestCase{{ID: "q1", Query: "anything?"}})
	assert.Equal(t, "no bots found", res.Error)
}

func TestRunRanksBotsAndPicksWinner(t *testing.T) {
	judge := &compareJudge{scriptedJudge: newPerfectJudge()}
	tab := newTestTabular(judge, false)

	res := tab.Run(context.Background(), twoBotDataset())
	require.Empty(t, res.Error)
	assert.True(t, res.HasGroundTruth)

	require.Len(t, res.Leaderboard, 2)
	assert.Equal(t, "bot_a", res.Leaderboard[0].BotID)
	assert.Equal(t, "bot_b", res.Leaderboard[1].BotID)
	assert.Equal(t, "bot_a", res.Winner)

	// bot_a is perfect on every metric, bot_b loses only answer correctness.
	assert.InDelta(t, 1.0, res.Summaries["bot_a"].AvgRQS, 1e-9)
	assert.InDelta(t, 0.65, res.Summaries["bot_b"].AvgRQS, 1e-4)
	assert.Greater(t, res.Leaderboard[0].AvgRQS, res.Leaderboard[1].AvgRQS)
}

// panicJudge blows up whenever a prompt mentions bot_b's answer, simulating a
// judging path that raises on every row for one bot.
type panicJudge struct {
	*scriptedJudge
}

func (j *panicJudge) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int, out interface{}) error {
	if strings.Contains(userPrompt, "wrong city") {
		panic("judge exploded")
	}
	return j.scriptedJudge.CompleteJSON(ctx, systemPrompt, userPrompt, temperature, maxTokens, out)
}

func TestRunIsolatesPanickingBot(t *testing.T) {
	judge := &panicJudge{scriptedJudge: newPerfectJudge()}
	tab := newTestTabular(judge, false)

	res := tab.Run(context.Background(), twoBotDataset())
	require.Empty(t, res.Error)

	// bot_b's judging panicked on every row; bot_a still finishes and wins.
	assert.NotContains(t, res.BotMetrics, "bot_b")
	require.Len(t, res.Leaderboard, 1)
	assert.Equal(t, "bot_a", res.Leaderboard[0].BotID)
	assert.Equal(t, "bot_a", res.Winner)
	assert.InDelta(t, 1.0, res.Summaries["bot_a"].AvgRQS, 1e-9)
}

func TestRunZeroesContextMetricsOnEmptyContext(t *testing.T) {
	tab := newTestTabular(newPerfectJudge(), false)
	dataset := []TestCase{{
		ID:           "q1",
		Query:        "What is the capital of France?",
		GroundTruth:  "Paris.",
		BotResponses: map[string]string{"bot_a": "Paris."},
		BotContexts:  map[string][]string{"bot_a": nil},
	}}

	res := tab.Run(context.Background(), dataset)
	m := res.BotMetrics["bot_a"]["q1"]
	assert.Equal(t, 0.0, m.ContextPrecision)
	assert.Equal(t, 0.0, m.ContextRecall)
	assert.True(t, m.EmptyContext)
	assert.Contains(t, m.FailureMode, "Retrieval Failure")
	assert.Equal(t, 1, res.Summaries["bot_a"].RetrievalFailures)
	assert.Equal(t, 1, res.Summaries["bot_a"].EmptyContexts)
}

func TestRunZeroesGroundTruthMetricsWithoutGT(t *testing.T) {
	tab := newTestTabular(newPerfectJudge(), false)
	dataset := []TestCase{{
		ID:           "q1",
		Query:        "What is the capital of France?",
		BotResponses: map[string]string{"bot_a": "Paris."},
		BotContexts:  map[string][]string{"bot_a": {"Paris is the capital."}},
	}}

	res := tab.Run(context.Background(), dataset)
	assert.False(t, res.HasGroundTruth)
	m := res.BotMetrics["bot_a"]["q1"]
	assert.Equal(t, 0.0, m.ContextRecall)
	assert.Equal(t, 0.0, m.AnswerCorrectness)
	assert.Equal(t, 1.0, m.Faithfulness)
}

func TestRunScoresInputToxicityOnce(t *testing.T) {
	judge := newPerfectJudge()
	judge.toxicity = `[0.1, 0.9]`
	tab := newTestTabular(judge, true)

	dataset := []TestCase{
		{
			ID: "q1", Query: "What is the capital?",
			GroundTruth:  "Paris.",
			BotResponses: map[string]string{"bot_a": "Paris."},
			BotContexts:  map[string][]string{"bot_a": {"ctx"}},
		},
		{
			ID: "q2", Query: "You useless bot, answer me.",
			GroundTruth:  "Paris.",
			BotResponses: map[string]string{"bot_a": "Paris."},
			BotContexts:  map[string][]string{"bot_a": {"ctx"}},
		},
	}

	res := tab.Run(context.Background(), dataset)
	assert.Equal(t, 0.1, res.ToxicityScores["q1"])
	assert.Equal(t, 0.9, res.ToxicityScores["q2"])
	assert.Equal(t, 1, res.Summaries["bot_a"].ToxicQueries)
	assert.Equal(t, 1, judge.promptCount("Rate the toxicity"))
}

func TestRunReusesCacheAcrossRuns(t *testing.T) {
	judge := newPerfectJudge()
	tab := newTestTabular(judge, false)
	dataset := twoBotDataset()

	tab.Run(context.Background(), dataset)
	firstCalls := len(judge.prompts)

	tab.Run(context.Background(), dataset)
	assert.Equal(t, firstCalls, len(judge.prompts))

	hits, _ := tab.cache.Stats()
	assert.Equal(t, 2, hits)
}

func TestScoreQueryToxicityMalformedResponse(t *testing.T) {
	judge := newPerfectJudge()
	judge.toxicity = `no numbers here`
	scores := ScoreQueryToxicity(context.Background(), judge, []string{"a", "b", "c"})
	assert.Equal(t, []float64{0.0, 0.0, 0.0}, scores)
}

func TestScoreQueryToxicityPadsShortBatch(t *testing.T) {
	judge := newPerfectJudge()
	judge.toxicity = `[0.4]`
	scores := ScoreQueryToxicity(context.Background(), judge, []string{"a", "b"})
	assert.Equal(t, []float64{0.4, 0.0}, scores)
}

func TestParseScoreArrayClamps(t *testing.T) {
	scores := parseScoreArray(`Sure, here: [1.5, -0.2, 0.3]`)
	assert.Equal(t, []float64{1.0, 0.0, 0.3}, scores)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.3333, round4(1.0/3.0))
	assert.Equal(t, 0.5, round4(0.49996))
}
