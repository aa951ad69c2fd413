package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	v1, err := e.Embed(context.Background(), "Smallmouth Bass in Zone 15")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v2, err := e.Embed(context.Background(), "smallmouth bass in zone 15")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v1) != 64 {
		t.Fatalf("expected dim 64, got %d", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embeddings not deterministic at index %d: %v vs %v", i, v1[i], v2[i])
		}
	}
	if n := norm(v1); math.Abs(n-1) > 1e-5 {
		t.Errorf("expected unit vector, got norm %f", n)
	}
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	e := NewHashEmbedder(16)
	if _, err := e.Embed(context.Background(), "  ... "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestNormalize_Zero(t *testing.T) {
	v := []float32{0, 0, 0}
	Normalize(v)
	for _, x := range v {
		if x != 0 {
			t.Fatalf("zero vector changed: %v", v)
		}
	}
}

type countingEmbedder struct {
	calls atomic.Int32
	fail  string
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if text == c.fail {
		return nil, errors.New("boom")
	}
	return []float32{float32(len(text)), 1}, nil
}
func (c *countingEmbedder) Dimension() int    { return 2 }
func (c *countingEmbedder) ModelInfo() string { return "counting" }

func TestEmbedBatch_Aligned(t *testing.T) {
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	e := &countingEmbedder{}
	var last int
	out, err := EmbedBatch(context.Background(), e, texts, 3, func(done, total int) {
		last = done
		if total != len(texts) {
			t.Errorf("total = %d, want %d", total, len(texts))
		}
	})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range out {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("embedding %d belongs to %q, got %v", i, texts[i], v)
		}
	}
	if last != len(texts) {
		t.Errorf("final progress = %d, want %d", last, len(texts))
	}
	if got := e.calls.Load(); got != int32(len(texts)) {
		t.Errorf("calls = %d, want %d", got, len(texts))
	}
}

func TestEmbedBatch_Error(t *testing.T) {
	e := &countingEmbedder{fail: "bad"}
	_, err := EmbedBatch(context.Background(), e, []string{"ok", "bad", "ok"}, 1, nil)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" || req.Input != "walleye" {
			t.Errorf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{3, 4}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "")
	v, err := e.Embed(context.Background(), "walleye")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("expected normalized [0.6 0.8], got %v", v)
	}
	if e.Dimension() != 2 {
		t.Errorf("dimension = %d, want 2", e.Dimension())
	}
	if e.ModelInfo() != "ollama-nomic-embed-text" {
		t.Errorf("unexpected model info %q", e.ModelInfo())
	}
}

func TestOllamaEmbedder_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewOllamaEmbedder(srv.URL, "m").Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestNewFromConfig(t *testing.T) {
	if _, err := NewFromConfig(Config{Provider: "openai"}); err == nil {
		t.Error("expected error for missing OpenAI key")
	}
	e, err := NewFromConfig(Config{Provider: "openai", APIKey: "sk-test", Model: "text-embedding-3-large"})
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	if e.Dimension() != 3072 || e.ModelInfo() != "openai-text-embedding-3-large" {
		t.Errorf("unexpected embedder %s/%d", e.ModelInfo(), e.Dimension())
	}
	if e, err := NewFromConfig(Config{Provider: "hash", Dimension: 32}); err != nil || e.Dimension() != 32 {
		t.Errorf("hash provider: %v", err)
	}
	if _, err := NewFromConfig(Config{Provider: "cohere"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "text-embedding-3-small" || len(req.Input) != 1 || req.Input[0] != "lake trout" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
			"data":[{"object":"embedding","index":0,"embedding":[3,4]}],
			"usage":{"prompt_tokens":2,"total_tokens":2}}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("sk-test", srv.URL+"/v1/", "")
	if err != nil {
		t.Fatal(err)
	}
	v, err := e.Embed(context.Background(), "lake trout")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(v) != 2 || math.Abs(norm(v)-1) > 1e-6 {
		t.Errorf("expected a unit vector of length 2, got %v", v)
	}
	if e.ModelInfo() != "openai-text-embedding-3-small" {
		t.Errorf("unexpected model info %q", e.ModelInfo())
	}

	if _, err := e.Embed(context.Background(), "  "); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
}
