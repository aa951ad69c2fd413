package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/perbu/regrag/pkg/chunker"
	"github.com/perbu/regrag/pkg/embedder"
)

var (
	// ErrNoIndex means no persisted index exists. It is a configuration
	// error: the offline build has to run before the index can serve.
	ErrNoIndex = errors.New("no persisted index found")

	// ErrModelMismatch means the query embedder differs from the one the
	// index was built with; their vectors are not comparable.
	ErrModelMismatch = errors.New("embeddings model mismatch")

	// ErrDimensionMismatch indicates two vectors have different dimensions.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Store is a vector store backend. Implementations must be safe for
// concurrent Query calls.
type Store interface {
	// Build embeds and persists passages. It is a no-op when a persisted
	// index already exists.
	Build(ctx context.Context, passages []chunker.Passage) error

	// Query returns up to k passages most similar to question, best first.
	Query(ctx context.Context, question string, k int) ([]Result, error)

	// IsReady reports whether a persisted index exists.
	IsReady() bool

	Close() error
}

// Options tunes a store. Zero values select defaults.
type Options struct {
	Workers         int           // concurrent embedding calls (default 10)
	CheckpointEvery int           // file backend: checkpoint every N embeddings (default 50)
	MinScore        float64       // drop results below this score when > 0
	LockTimeout     time.Duration // how long Build waits for another builder
	Progress        func(done, total int)
}

// Open returns the store for backend, "file" or "sqlite".
func Open(backend, path string, emb embedder.Embedder, opts Options) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path, emb, opts), nil
	case "sqlite":
		return OpenSQLite(path, emb, opts)
	default:
		return nil, fmt.Errorf("unknown index backend %q", backend)
	}
}

const (
	defaultWorkers     = 10
	defaultLockTimeout = 30 * time.Second
	lockRetryDelay     = 200 * time.Millisecond
)

// acquireBuildLock takes the exclusive lock guarding index creation at path.
func acquireBuildLock(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	if isMemoryDSN(path) {
		return func() {}, nil
	}
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, err
	}
	l := flock.New(lockPath)
	locked, err := l.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("cannot acquire index lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("another build is in progress (lock: %s)", lockPath)
	}
	return func() { _ = l.Unlock() }, nil
}

func isMemoryDSN(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
