package answer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/perbu/regrag/pkg/chunker"
	"github.com/perbu/regrag/pkg/embedder"
	"github.com/perbu/regrag/pkg/index"
)

const regulations = `Zone 14
Season: Walleye open January 1 to March 31 and third Saturday in May to December 31.
Limits: S-4 and C-2; not more than 1 greater than 46 cm.

Zone 15
Season: Smallmouth Bass open fourth Saturday in June to November 30.
Limits: Smallmouth Bass S-2 and C-1; must be greater than 30 cm.
Season: Lake Trout open January 1 to September 30.
Limits: Lake Trout S-2 and C-1.

Zone 16
Season: Northern Pike open all year.
Limits: S-6 and C-2; not more than 1 greater than 86 cm.

General
Anglers must carry a valid Outdoors Card and fishing licence while fishing.
Live bait may not be transported between bait management zones.
`

type fakeGenerator struct {
	calls   int
	prompts []string
	err     error
	reply   func(prompt string) string
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if g.reply != nil {
		return g.reply(prompt), nil
	}
	return "ok", nil
}

type fakeStore struct {
	calls   int
	results []index.Result
	err     error
	panics  bool
}

func (s *fakeStore) Build(context.Context, []chunker.Passage) error { return nil }
func (s *fakeStore) IsReady() bool                                  { return s.err == nil }
func (s *fakeStore) Close() error                                   { return nil }
func (s *fakeStore) Query(_ context.Context, _ string, k int) ([]index.Result, error) {
	s.calls++
	if s.panics {
		panic("index corrupted")
	}
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.results) {
		return s.results[:k], nil
	}
	return s.results, nil
}

func result(pos int, text string, score float64) index.Result {
	return index.Result{Passage: chunker.Passage{Text: text, Position: pos}, Score: score}
}

// quoteBass answers with the context line mentioning smallmouth bass limits.
func quoteBass(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if strings.Contains(line, "Smallmouth Bass S-") {
			return strings.TrimSpace(line)
		}
	}
	return "I don't have enough information about that in the Ontario 2025 Fishing Regulations."
}

func TestAnswer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	splitter, err := chunker.New(chunker.Options{Size: 200, Overlap: 40})
	if err != nil {
		t.Fatal(err)
	}
	passages := splitter.Split(regulations)

	store := index.NewFileStore(filepath.Join(t.TempDir(), "index.gob"), embedder.NewHashEmbedder(256), index.Options{})
	if err := store.Build(ctx, passages); err != nil {
		t.Fatalf("Build: %v", err)
	}

	gen := &fakeGenerator{reply: quoteBass}
	a := New(store, gen, Options{K: 3})
	resp, err := a.Answer(ctx, "What are the catch limits for Smallmouth Bass in Zone 15?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(resp.Answer, "S-2") || !strings.Contains(resp.Answer, "C-1") {
		t.Errorf("answer lacks limits: %q", resp.Answer)
	}
	if len(resp.Sources) == 0 || len(resp.Sources) > 3 {
		t.Fatalf("expected 1-3 sources, got %d", len(resp.Sources))
	}
	found := false
	for _, s := range resp.Sources {
		if strings.Contains(s, "Zone 15") {
			found = true
		}
		if s != strings.TrimSpace(s) {
			t.Errorf("source not trimmed: %q", s)
		}
	}
	if !found {
		t.Errorf("no source mentions Zone 15: %q", resp.Sources)
	}
	if gen.calls != 1 {
		t.Errorf("generator called %d times", gen.calls)
	}
	if !strings.Contains(gen.prompts[0], JoinContext(resp.Sources)) {
		t.Error("prompt does not contain the joined sources")
	}
}

const bassLimit = "Smallmouth Bass: Zone 15, daily limit S-2, C-1, closed season Jan 1 – May 10"

// summaryDocument returns a regulations summary with one block per zone,
// the Zone 15 block carrying bassLimit.
func summaryDocument() string {
	species := []string{"Walleye", "Northern Pike", "Lake Trout", "Brook Trout", "Muskellunge",
		"Yellow Perch", "Black Crappie", "Lake Whitefish", "Splake", "Channel Catfish", "Rainbow Trout",
		"Coho Salmon", "Chinook Salmon", "Brown Trout", "White Sucker", "Cisco", "Burbot", "Sauger", "Freshwater Drum"}
	var b strings.Builder
	b.WriteString("Ontario Fishing Regulations Summary 2025\n\n")
	for i, sp := range species {
		zone := 10 + i
		if zone >= 15 {
			zone++
		}
		if zone == 16 {
			b.WriteString("Zone 15\n")
			b.WriteString(bassLimit + "\n")
			b.WriteString("Anglers may use only artificial lures during the closed season.\n\n")
		}
		fmt.Fprintf(&b, "Zone %d\nSeason: %s open January 1 to March 31 and May 17 to December 31.\n", zone, sp)
		fmt.Fprintf(&b, "Limits: %s daily limit S-4, C-2; no size restrictions apply in this zone.\n\n", sp)
	}
	return b.String()
}

func TestAnswer_SmallmouthBassZone15(t *testing.T) {
	ctx := context.Background()
	splitter, err := chunker.New(chunker.Options{})
	if err != nil {
		t.Fatal(err)
	}
	passages := splitter.Split(summaryDocument())
	if len(passages) <= DefaultK {
		t.Fatalf("document too small for the scenario: %d passages", len(passages))
	}

	store := index.NewFileStore(filepath.Join(t.TempDir(), "index.gob"), embedder.NewHashEmbedder(256), index.Options{})
	if err := store.Build(ctx, passages); err != nil {
		t.Fatalf("Build: %v", err)
	}

	gen := &fakeGenerator{reply: func(prompt string) string {
		if strings.Contains(prompt, bassLimit) {
			return "In Zone 15 the daily limit for smallmouth bass is S-2 and C-1."
		}
		return "I don't have enough information about that in the Ontario 2025 Fishing Regulations."
	}}
	resp, err := New(store, gen, Options{}).Answer(ctx, "What is the daily limit for smallmouth bass in Zone 15?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(resp.Sources) != DefaultK {
		t.Errorf("expected %d sources, got %d", DefaultK, len(resp.Sources))
	}
	found := false
	for _, src := range resp.Sources {
		if strings.Contains(src, bassLimit) {
			found = true
		}
	}
	if !found {
		t.Fatalf("bass passage not among the top %d: %q", DefaultK, resp.Sources)
	}
	if !strings.Contains(resp.Answer, "S-2") || !strings.Contains(resp.Answer, "C-1") {
		t.Errorf("answer lacks limits: %q", resp.Answer)
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{}
	a := New(store, gen, Options{})

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := a.Answer(context.Background(), q)
		if KindOf(err) != KindInput {
			t.Errorf("%q: expected input error, got %v", q, err)
		}
		if !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("%q: expected ErrEmptyQuestion, got %v", q, err)
		}
	}
	if store.calls != 0 || gen.calls != 0 {
		t.Errorf("external calls made: store=%d generator=%d", store.calls, gen.calls)
	}
}

func TestAnswer_NoIndex(t *testing.T) {
	store := index.NewFileStore(filepath.Join(t.TempDir(), "missing.gob"), embedder.NewHashEmbedder(16), index.Options{})
	gen := &fakeGenerator{}
	_, err := New(store, gen, Options{}).Answer(context.Background(), "walleye season?")
	if KindOf(err) != KindUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
	if !errors.Is(err, index.ErrNoIndex) {
		t.Errorf("expected wrapped ErrNoIndex, got %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times", gen.calls)
	}
}

func TestAnswer_RetrievalFailure(t *testing.T) {
	store := &fakeStore{err: index.ErrModelMismatch}
	gen := &fakeGenerator{}
	_, err := New(store, gen, Options{}).Answer(context.Background(), "walleye?")
	if KindOf(err) != KindRetrieval {
		t.Fatalf("expected retrieval error, got %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times", gen.calls)
	}
}

func TestAnswer_GenerationFailureKeepsSources(t *testing.T) {
	store := &fakeStore{results: []index.Result{
		result(3, "  Zone 15 bass  ", 0.9),
		result(1, "Zone 14 walleye", 0.5),
	}}
	gen := &fakeGenerator{err: errors.New("upstream timeout")}
	resp, err := New(store, gen, Options{}).Answer(context.Background(), "bass?")
	if KindOf(err) != KindGeneration {
		t.Fatalf("expected generation error, got %v", err)
	}
	if len(resp.Sources) != 2 || resp.Sources[0] != "Zone 15 bass" {
		t.Errorf("sources not returned on generation failure: %q", resp.Sources)
	}
	if resp.Answer != "" {
		t.Errorf("unexpected answer %q", resp.Answer)
	}
}

func TestAnswer_PanicBecomesError(t *testing.T) {
	_, err := New(&fakeStore{panics: true}, &fakeGenerator{}, Options{}).Answer(context.Background(), "bass?")
	if KindOf(err) != KindRetrieval {
		t.Fatalf("expected retrieval error from panic, got %v", err)
	}
}

func TestAnswer_KBoundAndOrder(t *testing.T) {
	var results []index.Result
	for i := 0; i < 8; i++ {
		results = append(results, result(i, string(rune('a'+i)), 1-float64(i)/10))
	}
	store := &fakeStore{results: results}
	resp, err := New(store, &fakeGenerator{}, Options{}).Answer(context.Background(), "q")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(resp.Sources, "") != "abcde" {
		t.Errorf("expected the first %d sources in order, got %q", DefaultK, resp.Sources)
	}
}

func TestBuildPrompt(t *testing.T) {
	if err := ValidatePrompt(DefaultPrompt); err != nil {
		t.Fatalf("default prompt invalid: %v", err)
	}
	if err := ValidatePrompt("no placeholders"); err == nil {
		t.Error("expected error for template without placeholders")
	}

	got := BuildPrompt("C:{context}|Q:{question}", "a\n\nb", "what about {context}?")
	want := "C:a\n\nb|Q:what about {context}?"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	p := BuildPrompt(DefaultPrompt, "ctx", "Is ice fishing allowed?")
	if !strings.Contains(p, "Question: Is ice fishing allowed?") {
		t.Error("question not inserted literally")
	}
	if !strings.Contains(p, "I don't have enough information") {
		t.Error("refusal instruction missing")
	}
}
