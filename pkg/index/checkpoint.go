package index

import (
	"encoding/gob"
	"errors"
	"io/fs"
	"os"

	"github.com/perbu/regrag/pkg/chunker"
)

// checkpoint holds a partially embedded passage list so an interrupted
// build can resume.
type checkpoint struct {
	Chunks     []chunker.Passage
	Embeddings [][]float32
	Completed  map[int]bool
	ModelInfo  string
	Dimension  int
}

func checkpointPath(indexPath string) string {
	return indexPath + ".checkpoint"
}

func loadCheckpoint(path string) (*checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var cp checkpoint
	if err := gob.NewDecoder(file).Decode(&cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func saveCheckpoint(path string, cp *checkpoint) error {
	return writeGob(path, cp)
}

// matches reports whether cp was produced for the same passages and model.
func (cp *checkpoint) matches(passages []chunker.Passage, model string) bool {
	if cp.ModelInfo != model || len(cp.Chunks) != len(passages) || len(cp.Embeddings) != len(passages) {
		return false
	}
	for i := range passages {
		if cp.Chunks[i].Text != passages[i].Text {
			return false
		}
	}
	return true
}

func (cp *checkpoint) completed() int {
	n := 0
	for _, done := range cp.Completed {
		if done {
			n++
		}
	}
	return n
}
