package index

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/perbu/regrag/pkg/chunker"
	"github.com/perbu/regrag/pkg/embedder"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS passages (
	position     INTEGER PRIMARY KEY,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	content      TEXT NOT NULL,
	embedding    BLOB NOT NULL
);`

var registerOnce sync.Once

// registerVecDot makes vec_dot(a, b) available on connections opened after
// the call.
func registerVecDot() {
	registerOnce.Do(func() {
		_ = sqlite.RegisterDeterministicScalarFunction("vec_dot", 2, vecDotImpl)
	})
}

func vecDotImpl(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("vec_dot: expected 2 arguments, got %d", len(args))
	}
	a, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_dot: unsupported argument type %T; want BLOB", args[0])
	}
	b, ok := args[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("vec_dot: unsupported argument type %T; want BLOB", args[1])
	}
	va, err := decodeVector(a)
	if err != nil {
		return nil, err
	}
	vb, err := decodeVector(b)
	if err != nil {
		return nil, err
	}
	if len(va) != len(vb) {
		return nil, fmt.Errorf("vec_dot: %w: %d vs %d", ErrDimensionMismatch, len(va), len(vb))
	}
	s := Dot(va, vb)
	if math.IsNaN(s) {
		return nil, nil
	}
	return s, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// SQLiteStore keeps passages and embeddings in a SQLite database and scores
// them inside the query with the vec_dot function.
type SQLiteStore struct {
	db   *sql.DB
	path string
	emb  embedder.Embedder
	opts Options

	mu    sync.Mutex
	model string
	dim   int
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database. CheckpointEvery is not used; the
// build is a single transaction.
func OpenSQLite(path string, emb embedder.Embedder, opts Options) (*SQLiteStore, error) {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	registerVecDot()

	if !isMemoryDSN(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if isMemoryDSN(path) {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path, emb: emb, opts: opts}, nil
}

// IsReady reports whether a completed build is stored in the database.
func (s *SQLiteStore) IsReady() bool {
	_, _, err := s.meta(context.Background())
	return err == nil
}

// meta returns the model and dimension recorded by the last build.
func (s *SQLiteStore) meta(ctx context.Context) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != "" {
		return s.model, s.dim, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta WHERE key IN ('model', 'dimension')`)
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	var model string
	var dim int
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return "", 0, err
		}
		switch k {
		case "model":
			model = v
		case "dimension":
			dim, err = strconv.Atoi(v)
			if err != nil {
				return "", 0, fmt.Errorf("invalid dimension %q: %w", v, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", 0, err
	}
	if model == "" {
		return "", 0, fmt.Errorf("%w in %s", ErrNoIndex, s.path)
	}
	s.model, s.dim = model, dim
	return model, dim, nil
}

// Build embeds passages and stores them in one transaction. It does nothing
// when the database already holds a build.
func (s *SQLiteStore) Build(ctx context.Context, passages []chunker.Passage) error {
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
	if s.IsReady() {
		return nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = strings.TrimSpace(p.Text)
	}
	vectors, err := embedder.EmbedBatch(ctx, s.emb, texts, s.opts.Workers, s.opts.Progress)
	if err != nil {
		return err
	}
	// Validates alignment and dimensions.
	idx, err := New(passages, vectors, s.emb.ModelInfo())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM passages`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (position, start_offset, end_offset, content, embedding) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, p := range passages {
		if _, err := stmt.ExecContext(ctx, p.Position, p.Start, p.End, p.Text, encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("inserting passage %d: %w", i, err)
		}
	}

	meta := map[string]string{
		"model":      idx.Model(),
		"dimension":  strconv.Itoa(idx.Dimension()),
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Query embeds question and lets SQLite rank the passages.
func (s *SQLiteStore) Query(ctx context.Context, question string, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	model, dim, err := s.meta(ctx)
	if err != nil {
		return nil, err
	}
	if current := s.emb.ModelInfo(); current != model {
		return nil, fmt.Errorf("%w: index built with %q, querying with %q", ErrModelMismatch, model, current)
	}
	qv, err := s.emb.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(qv) != dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(qv), dim)
	}

	// vec_dot yields NULL for a NaN score; those rows sort last.
	query := `SELECT position, start_offset, end_offset, content, score FROM (
		SELECT position, start_offset, end_offset, content, vec_dot(embedding, ?) AS score FROM passages
	)`
	args := []any{encodeVector(qv)}
	if s.opts.MinScore > 0 {
		query += ` WHERE score >= ?`
		args = append(args, s.opts.MinScore)
	}
	query += ` ORDER BY score IS NULL, score DESC, position ASC LIMIT ?`
	args = append(args, k)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var score sql.NullFloat64
		if err := rows.Scan(&r.Passage.Position, &r.Passage.Start, &r.Passage.End, &r.Passage.Text, &score); err != nil {
			return nil, err
		}
		r.Score = math.NaN()
		if score.Valid {
			r.Score = score.Float64
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
