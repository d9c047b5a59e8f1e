package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.MaxBatchSize)
	assert.Equal(t, 2, cfg.BotWorkers)

	// Triad weights mirror the tabular RQS defaults.
	assert.Equal(t, 0.35, cfg.WeightCorrectness)
	assert.Equal(t, 0.25, cfg.WeightFaithfulness)
	assert.Equal(t, 0.25, cfg.WeightRelevancy)
	assert.Equal(t, 0.075, cfg.WeightContextPrecision)
	assert.Equal(t, 0.075, cfg.WeightContextRecall)

	// Failure-mode classifier thresholds are looser than the batch gates.
	assert.Equal(t, 0.3, cfg.ContextRecallThreshold)
	assert.Equal(t, 0.3, cfg.ContextPrecisionThreshold)
	assert.Equal(t, 0.3, cfg.FaithfulnessThreshold)
	assert.Equal(t, 0.3, cfg.AnswerRelevancyThreshold)
	assert.Equal(t, 0.3, cfg.AnswerCorrectnessThreshold)
	assert.Equal(t, 0.5, cfg.AccuracyThreshold)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NEXUSEVAL_MAX_BATCH_SIZE", "100")
	t.Setenv("NEXUSEVAL_WEIGHT_CORRECTNESS", "0.5")
	t.Setenv("NEXUSEVAL_FAITHFULNESS_THRESHOLD", "0.4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 100, cfg.MaxBatchSize)
	assert.Equal(t, 0.5, cfg.WeightCorrectness)
	assert.Equal(t, 0.4, cfg.FaithfulnessThreshold)
}
