package embedder

import "fmt"

// Config contains the resolved embeddings configuration.
type Config struct {
	Provider  string // openai, ollama or hash
	Model     string
	APIKey    string
	BaseURL   string
	Dimension int // hash provider only
}

// NewFromConfig returns an embeddings provider.
func NewFromConfig(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model), nil
	case "hash":
		return NewHashEmbedder(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embeddings provider: %s", cfg.Provider)
	}
}
