package main

import (
	"fmt"

	"github.com/perbu/regrag/pkg/answer"
	"github.com/perbu/regrag/pkg/config"
	"github.com/perbu/regrag/pkg/embedder"
	"github.com/perbu/regrag/pkg/generator"
	"github.com/perbu/regrag/pkg/index"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg   *config.Config
	emb   embedder.Embedder
	store index.Store
}

// setup loads the configuration and opens the index store. A nil minScore
// uses the configured threshold. Nothing is read from the index until the
// first query.
func setup(needGeneration bool, minScore *float64) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot load config: %w", err)
	}
	if err := cfg.RequireAPIKey(needGeneration); err != nil {
		return nil, fmt.Errorf("%w\n  Please set it in .env file or environment", err)
	}

	emb, err := embedder.NewFromConfig(cfg.EmbedderConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	opts := index.Options{MinScore: cfg.Retrieval.MinScore}
	if minScore != nil {
		opts.MinScore = *minScore
	}
	store, err := index.Open(cfg.Backend, cfg.IndexPath, emb, opts)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, emb: emb, store: store}, nil
}

func (a *app) answerer() (*answer.Answerer, error) {
	gen, err := generator.NewOpenAIGenerator(a.cfg.GeneratorConfig())
	if err != nil {
		return nil, fmt.Errorf("initializing generator: %w", err)
	}
	return answer.New(a.store, gen, answer.Options{K: a.cfg.Retrieval.K, Prompt: a.cfg.Prompt}), nil
}

// requireIndex fails with a hint when the index has not been built.
func (a *app) requireIndex() error {
	if a.store.IsReady() {
		return nil
	}
	return fmt.Errorf("%w at %s\n  Run generate-embeddings first", index.ErrNoIndex, a.cfg.IndexPath)
}
