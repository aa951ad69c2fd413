package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/perbu/regrag/pkg/chunker"
	"github.com/perbu/regrag/pkg/embedder"
)

// FileStore keeps the index in a single gob file. The file is loaded lazily
// on first use and then shared by all queries.
type FileStore struct {
	path string
	emb  embedder.Embedder
	opts Options

	// idx is set once the index is loaded or built; mu serializes loading.
	idx atomic.Pointer[Index]
	mu  sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the index file at path. Nothing is
// read until the first query.
func NewFileStore(path string, emb embedder.Embedder, opts Options) *FileStore {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 50
	}
	return &FileStore{path: path, emb: emb, opts: opts}
}

// IsReady reports whether the index file exists.
func (s *FileStore) IsReady() bool {
	return fileExists(s.path)
}

// Index loads the persisted index on first call and returns the cached
// instance afterwards. Concurrent first calls load the file once. A failed
// load is not cached.
func (s *FileStore) Index() (*Index, error) {
	if idx := s.idx.Load(); idx != nil {
		return idx, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.idx.Load(); idx != nil {
		return idx, nil
	}
	data, err := ReadIndex(s.path)
	if err != nil {
		return nil, err
	}
	idx, err := LoadIndex(data)
	if err != nil {
		return nil, fmt.Errorf("loading index %s: %w", s.path, err)
	}
	s.idx.Store(idx)
	return idx, nil
}

// Query embeds question and returns the k most similar passages.
func (s *FileStore) Query(ctx context.Context, question string, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	idx, err := s.Index()
	if err != nil {
		return nil, err
	}
	if model := s.emb.ModelInfo(); model != idx.Model() {
		return nil, fmt.Errorf("%w: index built with %q, querying with %q", ErrModelMismatch, idx.Model(), model)
	}
	qv, err := s.emb.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return idx.Search(qv, k, s.opts.MinScore)
}

// Build embeds passages and writes the index file. It does nothing when the
// file already exists; concurrent builders are serialized by a lock file.
func (s *FileStore) Build(ctx context.Context, passages []chunker.Passage) error {
	if len(passages) == 0 {
		return chunker.ErrEmptyDocument
	}
	if s.IsReady() {
		return nil
	}

	unlock, err := acquireBuildLock(ctx, s.path, s.opts.LockTimeout)
	if err != nil {
		return err
	}
	defer unlock()

	// Someone may have finished while we waited for the lock.
	if s.IsReady() {
		return nil
	}

	vectors, err := s.embedAll(ctx, passages)
	if err != nil {
		return err
	}

	idx, err := New(passages, vectors, s.emb.ModelInfo())
	if err != nil {
		return err
	}
	data := idx.Data()
	data.CreatedAt = time.Now().UTC()
	if err := WriteIndex(s.path, data); err != nil {
		return err
	}

	if err := os.Remove(checkpointPath(s.path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}

	s.idx.Store(idx)
	return nil
}

// embedAll embeds every passage, resuming from and saving to the checkpoint
// file next to the index. On failure the checkpoint is saved before
// returning so the next Build picks up where this one stopped.
func (s *FileStore) embedAll(ctx context.Context, passages []chunker.Passage) ([][]float32, error) {
	cpPath := checkpointPath(s.path)
	model := s.emb.ModelInfo()

	cp, err := loadCheckpoint(cpPath)
	if err != nil || cp == nil || !cp.matches(passages, model) {
		cp = &checkpoint{
			Chunks:     passages,
			Embeddings: make([][]float32, len(passages)),
			ModelInfo:  model,
			Dimension:  s.emb.Dimension(),
		}
	}
	if cp.Completed == nil {
		cp.Completed = make(map[int]bool)
	}

	toProcess := make([]int, 0, len(passages))
	for i := range passages {
		if !cp.Completed[i] {
			toProcess = append(toProcess, i)
		}
	}

	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		embedErrors []error
		completed   = len(passages) - len(toProcess)
		saveCounter int
	)
	sem := make(chan struct{}, s.opts.Workers)

	for _, idx := range toProcess {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			vec, err := s.emb.Embed(ctx, strings.TrimSpace(passages[idx].Text))

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				embedErrors = append(embedErrors, fmt.Errorf("passage %d: %w", idx, err))
				return
			}
			cp.Embeddings[idx] = vec
			cp.Completed[idx] = true
			completed++
			saveCounter++
			if s.opts.Progress != nil {
				s.opts.Progress(completed, len(passages))
			}
			if saveCounter >= s.opts.CheckpointEvery {
				saveCounter = 0
				// Intermediate saves are best effort.
				_ = saveCheckpoint(cpPath, cp)
			}
		}(idx)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		embedErrors = append(embedErrors, err)
	}
	if len(embedErrors) > 0 {
		if err := saveCheckpoint(cpPath, cp); err != nil {
			embedErrors = append(embedErrors, fmt.Errorf("saving checkpoint: %w", err))
		}
		return nil, fmt.Errorf("embedding %d passages (%d done, checkpoint saved): %w",
			len(passages), cp.completed(), errors.Join(embedErrors...))
	}
	return cp.Embeddings, nil
}

// Close releases the cached index.
func (s *FileStore) Close() error {
	s.idx.Store(nil)
	return nil
}
