package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/perbu/regrag/pkg/generator"
	"github.com/perbu/regrag/pkg/index"
)

// DefaultK is the number of passages retrieved per question.
const DefaultK = 5

// ErrEmptyQuestion is returned for blank questions.
var ErrEmptyQuestion = errors.New("question must not be empty")

// Kind classifies an answering failure.
type Kind string

const (
	KindInput       Kind = "input"       // bad question
	KindUnavailable Kind = "unavailable" // no index has been built
	KindRetrieval   Kind = "retrieval"
	KindGeneration  Kind = "generation"
)

// Error is returned by Answer for every failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Response is an answer and the passage texts it was generated from, best
// match first.
type Response struct {
	Answer  string
	Sources []string
}

// Options configures an Answerer. Zero values select defaults.
type Options struct {
	K      int
	Prompt string
}

// Answerer answers questions by retrieving passages from a store and
// handing them to a generator.
type Answerer struct {
	store  index.Store
	gen    generator.Generator
	k      int
	prompt string
}

// New creates an Answerer. The store is not touched until the first
// question.
func New(store index.Store, gen generator.Generator, opts Options) *Answerer {
	if opts.K <= 0 {
		opts.K = DefaultK
	}
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	return &Answerer{store: store, gen: gen, k: opts.K, prompt: opts.Prompt}
}

// Answer retrieves the top passages for question and generates an answer
// from them. When generation fails the retrieved sources are still
// returned alongside the error.
func (a *Answerer) Answer(ctx context.Context, question string) (resp Response, err error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return Response{}, &Error{Kind: KindInput, Err: ErrEmptyQuestion}
	}

	stage := KindRetrieval
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	results, err := a.store.Query(ctx, q, a.k)
	if err != nil {
		if errors.Is(err, index.ErrNoIndex) {
			return Response{}, &Error{Kind: KindUnavailable, Err: err}
		}
		return Response{}, &Error{Kind: KindRetrieval, Err: err}
	}

	sources := make([]string, len(results))
	for i, r := range results {
		sources[i] = strings.TrimSpace(r.Passage.Text)
	}
	resp.Sources = sources

	stage = KindGeneration
	prompt := BuildPrompt(a.prompt, JoinContext(sources), q)
	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		return resp, &Error{Kind: KindGeneration, Err: err}
	}
	resp.Answer = text
	return resp, nil
}
