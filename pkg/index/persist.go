package index

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ReadIndex decodes a persisted index from path. A missing file yields
// ErrNoIndex.
func ReadIndex(path string) (*EmbeddingData, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrNoIndex, path)
		}
		return nil, err
	}
	defer file.Close()

	var data EmbeddingData
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	return &data, nil
}

// writeGob encodes v to path through a temp file and an atomic rename, so
// readers never observe a partial file.
func writeGob(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	file, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := file.Name()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// WriteIndex persists data at path.
func WriteIndex(path string, data *EmbeddingData) error {
	if err := writeGob(path, data); err != nil {
		return fmt.Errorf("writing index %s: %w", path, err)
	}
	return nil
}
