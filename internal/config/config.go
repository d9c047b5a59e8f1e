package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config carries every tunable for the evaluation service. Values come from
// (highest precedence first) environment variables prefixed NEXUSEVAL_, an
// optional YAML config file, and the defaults set in Load.
type Config struct {
	// Upstream LLM provider
	AIProvider    string  `mapstructure:"ai_provider"`
	AIAPIKey      string  `mapstructure:"ai_api_key"`
	AIBaseURL     string  `mapstructure:"ai_base_url"`
	AIModel       string  `mapstructure:"ai_model"`
	AITemperature float64 `mapstructure:"ai_temperature"`

	// Server
	Host    string `mapstructure:"host"`
	APIPort int    `mapstructure:"api_port"`

	// Storage
	DatabaseURL string `mapstructure:"database_url"`
	PromptsDir  string `mapstructure:"prompts_dir"`

	// Evaluation cache
	CacheEnabled bool   `mapstructure:"cache_enabled"`
	CachePath    string `mapstructure:"cache_path"`

	// Path allow-list root for file-based evaluation requests
	AllowedDataDir string `mapstructure:"allowed_data_dir"`

	// Batch thresholds
	AccuracyThreshold      float64 `mapstructure:"accuracy_threshold"`
	ConsistencyThreshold   float64 `mapstructure:"consistency_threshold"`
	HallucinationThreshold float64 `mapstructure:"hallucination_threshold"`
	RQSThreshold           float64 `mapstructure:"rqs_threshold"`
	SemanticThreshold      float64 `mapstructure:"semantic_threshold"`
	FuzzyThreshold         float64 `mapstructure:"fuzzy_threshold"`

	// Composite weights for the structured-output RQS
	WeightAccuracy      float64 `mapstructure:"weight_accuracy"`
	WeightCompleteness  float64 `mapstructure:"weight_completeness"`
	WeightHallucination float64 `mapstructure:"weight_hallucination"`
	WeightSafety        float64 `mapstructure:"weight_safety"`

	// Triad weights for the tabular RQS
	WeightCorrectness      float64 `mapstructure:"weight_correctness"`
	WeightFaithfulness     float64 `mapstructure:"weight_faithfulness"`
	WeightRelevancy        float64 `mapstructure:"weight_relevancy"`
	WeightContextPrecision float64 `mapstructure:"weight_context_precision"`
	WeightContextRecall    float64 `mapstructure:"weight_context_recall"`

	// Per-metric thresholds for the tabular failure-mode classifier
	ContextRecallThreshold     float64 `mapstructure:"context_recall_threshold"`
	ContextPrecisionThreshold  float64 `mapstructure:"context_precision_threshold"`
	FaithfulnessThreshold      float64 `mapstructure:"faithfulness_threshold"`
	AnswerRelevancyThreshold   float64 `mapstructure:"answer_relevancy_threshold"`
	AnswerCorrectnessThreshold float64 `mapstructure:"answer_correctness_threshold"`

	// Concurrency
	BotWorkers   int `mapstructure:"bot_workers"`
	MaxBatchSize int `mapstructure:"max_batch_size"`

	Debug bool `mapstructure:"debug"`
}

// Load reads configuration from the environment and an optional config file.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("ai_provider", "openai")
	v.SetDefault("ai_model", "gpt-4o-mini")
	v.SetDefault("ai_temperature", 0.0)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("api_port", 8000)
	v.SetDefault("database_url", "evaluations.db")
	v.SetDefault("prompts_dir", "prompts")
	v.SetDefault("cache_enabled", true)
	v.SetDefault("cache_path", ".eval_cache.json")
	v.SetDefault("allowed_data_dir", "data")
	v.SetDefault("accuracy_threshold", 0.5)
	v.SetDefault("consistency_threshold", 0.5)
	v.SetDefault("hallucination_threshold", 0.5)
	v.SetDefault("rqs_threshold", 0.5)
	v.SetDefault("semantic_threshold", 0.5)
	v.SetDefault("fuzzy_threshold", 0.5)
	v.SetDefault("weight_accuracy", 0.45)
	v.SetDefault("weight_completeness", 0.25)
	v.SetDefault("weight_hallucination", 0.15)
	v.SetDefault("weight_safety", 0.15)
	v.SetDefault("weight_correctness", 0.35)
	v.SetDefault("weight_faithfulness", 0.25)
	v.SetDefault("weight_relevancy", 0.25)
	v.SetDefault("weight_context_precision", 0.075)
	v.SetDefault("weight_context_recall", 0.075)
	v.SetDefault("context_recall_threshold", 0.3)
	v.SetDefault("context_precision_threshold", 0.3)
	v.SetDefault("faithfulness_threshold", 0.3)
	v.SetDefault("answer_relevancy_threshold", 0.3)
	v.SetDefault("answer_correctness_threshold", 0.3)
	v.SetDefault("bot_workers", 2)
	v.SetDefault("max_batch_size", 500)
	v.SetDefault("debug", false)

	v.SetEnvPrefix("NEXUSEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/nexuseval")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
