package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/perbu/regrag/pkg/answer"
	"github.com/perbu/regrag/pkg/chunker"
	"github.com/perbu/regrag/pkg/embedder"
	"github.com/perbu/regrag/pkg/generator"
)

// DefaultFile is the config file read when none is given.
const DefaultFile = "regrag.yaml"

// DefaultDocumentURL is where the regulations summary is published.
const DefaultDocumentURL = "https://files.ontario.ca/mnr-2025-fishing-regulations-summary-en-2024-12-09_0.pdf"

// DefaultEmbeddingModel is the OpenAI embeddings model.
const DefaultEmbeddingModel = "text-embedding-3-small"

// ErrMissingAPIKey is returned when an OpenAI-backed component has no key.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not set")

type ChunkConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

type RetrievalConfig struct {
	K        int     `yaml:"k"`
	MinScore float64 `yaml:"min_score,omitempty"`
}

type EmbeddingsConfig struct {
	Provider  string `yaml:"provider"` // openai, ollama or hash
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

type GenerationConfig struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// Config is the in-memory representation of regrag.yaml merged with the
// environment.
type Config struct {
	DocumentPath string           `yaml:"document_path"`
	DocumentURL  string           `yaml:"document_url"`
	IndexPath    string           `yaml:"index_path"`
	Backend      string           `yaml:"backend"` // file or sqlite
	Chunk        ChunkConfig      `yaml:"chunk"`
	Retrieval    RetrievalConfig  `yaml:"retrieval"`
	Embeddings   EmbeddingsConfig `yaml:"embeddings"`
	Generation   GenerationConfig `yaml:"generation"`
	Server       ServerConfig     `yaml:"server"`
	Prompt       string           `yaml:"prompt,omitempty"`

	// APIKey only comes from the environment.
	APIKey string `yaml:"-"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		DocumentPath: "data/regulations.pdf",
		DocumentURL:  DefaultDocumentURL,
		IndexPath:    "data/index.gob",
		Backend:      "file",
		Chunk:        ChunkConfig{Size: chunker.DefaultSize, Overlap: chunker.DefaultOverlap},
		Retrieval:    RetrievalConfig{K: answer.DefaultK},
		Embeddings:   EmbeddingsConfig{Provider: "openai", Model: DefaultEmbeddingModel},
		Generation:   GenerationConfig{Model: generator.DefaultModel},
		Server:       ServerConfig{Port: 8000, AllowedOrigins: []string{"*"}},
	}
}

// Load builds the configuration: .env first, then the YAML file at path
// (DefaultFile when empty, optional in that case), then environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = os.Getenv("REGRAG_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFile
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
	default:
		return nil, fmt.Errorf("cannot read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.APIKey = os.Getenv("OPENAI_API_KEY")

	str := map[string]*string{
		"REGRAG_DOCUMENT":            &c.DocumentPath,
		"REGRAG_DOCUMENT_URL":        &c.DocumentURL,
		"REGRAG_INDEX":               &c.IndexPath,
		"REGRAG_BACKEND":             &c.Backend,
		"REGRAG_EMBEDDINGS_PROVIDER": &c.Embeddings.Provider,
		"REGRAG_EMBEDDINGS_MODEL":    &c.Embeddings.Model,
		"REGRAG_EMBEDDINGS_BASE_URL": &c.Embeddings.BaseURL,
		"REGRAG_GENERATION_MODEL":    &c.Generation.Model,
		"OPENAI_BASE_URL":            &c.Generation.BaseURL,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REGRAG_CHUNK_SIZE":    &c.Chunk.Size,
		"REGRAG_CHUNK_OVERLAP": &c.Chunk.Overlap,
		"REGRAG_TOP_K":         &c.Retrieval.K,
		"REGRAG_PORT":          &c.Server.Port,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		*dst = n
	}

	if v := os.Getenv("REGRAG_MIN_SCORE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("REGRAG_MIN_SCORE: invalid number %q", v)
		}
		c.Retrieval.MinScore = f
	}
	if v := os.Getenv("REGRAG_CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Chunk.Size, c.Chunk.Overlap)
	}
	if c.Retrieval.K < 1 {
		return fmt.Errorf("retrieval k must be at least 1, got %d", c.Retrieval.K)
	}
	switch c.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown index backend %q (want file or sqlite)", c.Backend)
	}
	switch c.Embeddings.Provider {
	case "openai", "ollama", "hash":
	default:
		return fmt.Errorf("unsupported embeddings provider: %s", c.Embeddings.Provider)
	}
	if c.IndexPath == "" {
		return fmt.Errorf("index path must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Prompt != "" {
		if err := answer.ValidatePrompt(c.Prompt); err != nil {
			return err
		}
	}
	return nil
}

// RequireAPIKey returns ErrMissingAPIKey when OpenAI is needed for
// embeddings, or for generation when generation is set, and no key is
// configured.
func (c *Config) RequireAPIKey(generation bool) error {
	if c.APIKey != "" {
		return nil
	}
	if generation || c.Embeddings.Provider == "openai" {
		return ErrMissingAPIKey
	}
	return nil
}

// EmbedderConfig returns the settings for embedder.NewFromConfig.
func (c *Config) EmbedderConfig() embedder.Config {
	model := c.Embeddings.Model
	if c.Embeddings.Provider != "openai" && model == DefaultEmbeddingModel {
		// let the provider pick its own default
		model = ""
	}
	return embedder.Config{
		Provider:  c.Embeddings.Provider,
		Model:     model,
		APIKey:    c.APIKey,
		BaseURL:   c.Embeddings.BaseURL,
		Dimension: c.Embeddings.Dimension,
	}
}

// GeneratorConfig returns the settings for generator.NewOpenAIGenerator.
func (c *Config) GeneratorConfig() generator.Config {
	return generator.Config{
		APIKey:     c.APIKey,
		BaseURL:    c.Generation.BaseURL,
		Model:      c.Generation.Model,
		MaxRetries: -1,
	}
}

// Save writes c as YAML to path.
func Save(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write config %s: %w", path, err)
	}
	return nil
}
