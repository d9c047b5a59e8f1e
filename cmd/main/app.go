package main

import (
	"fmt"

	"github.com/spf13/afero"

	"nexuseval/internal/auth"
	"nexuseval/internal/config"
	"nexuseval/internal/db"
	"nexuseval/internal/db/repositories"
	"nexuseval/internal/events"
	"nexuseval/pkg/eval"
	"nexuseval/pkg/llm"
	"nexuseval/pkg/prompts"
)

// app wires the service graph once per command invocation.
type app struct {
	cfg          *config.Config
	database     *db.DB
	repos        *repositories.Repositories
	authService  *auth.Service
	registry     *prompts.Registry
	gateway      *llm.Gateway
	cache        *eval.Cache
	tabular      *eval.TabularEvaluator
	orchestrator *eval.Orchestrator
	bus          *events.Bus
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	repos := repositories.New(database)

	registry := prompts.NewOSRegistry(cfg.PromptsDir)
	if err := registry.EnsureDefaults(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to seed prompt registry: %w", err)
	}

	client, err := llm.NewClient(cfg)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	gateway := llm.NewGateway(client, registry)

	osFS := afero.NewOsFs()
	cache := eval.NewCache(osFS, cfg.CachePath, cfg.CacheEnabled)
	triad := eval.NewTriadEvaluator(gateway, 4)
	tabular := eval.NewTabularEvaluator(triad, gateway, cache, eval.TabularOptions{
		Weights: eval.TriadWeights{
			AnswerCorrectness: cfg.WeightCorrectness,
			Faithfulness:      cfg.WeightFaithfulness,
			AnswerRelevancy:   cfg.WeightRelevancy,
			ContextPrecision:  cfg.WeightContextPrecision,
			ContextRecall:     cfg.WeightContextRecall,
		},
		MetricThresholds: eval.MetricThresholds{
			ContextRecall:     cfg.ContextRecallThreshold,
			ContextPrecision:  cfg.ContextPrecisionThreshold,
			Faithfulness:      cfg.FaithfulnessThreshold,
			AnswerRelevancy:   cfg.AnswerRelevancyThreshold,
			AnswerCorrectness: cfg.AnswerCorrectnessThreshold,
		},
		ToxicityEnabled: true,
		ModelName:       gateway.ModelName(),
		Temperature:     cfg.AITemperature,
		MaxWorkers:      cfg.BotWorkers,
	})

	bus := events.NewBus()
	orchestrator := eval.NewOrchestrator(gateway, bus, repos.Evaluations, osFS, cfg.AllowedDataDir).
		WithRecommender(gateway).
		WithMaxBatchSize(cfg.MaxBatchSize)

	return &app{
		cfg:          cfg,
		database:     database,
		repos:        repos,
		authService:  auth.NewService(repos.Tenants),
		registry:     registry,
		gateway:      gateway,
		cache:        cache,
		tabular:      tabular,
		orchestrator: orchestrator,
		bus:          bus,
	}, nil
}

func (a *app) Close() {
	a.cache.Save()
	a.database.Close()
}
