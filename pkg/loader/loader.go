package loader

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"github.com/perbu/regrag/pkg/chunker"
)

// UserAgent is sent when downloading the source document; the publisher
// rejects requests without a browser-like agent.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// ReadDocument returns the normalized text of the document at path. PDF
// files are converted to plain text, anything else is read as UTF-8.
func ReadDocument(path string) (string, error) {
	var text string
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		t, err := ReadPDF(path)
		if err != nil {
			return "", err
		}
		text = t
	} else {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		text = string(b)
	}
	return Normalize(text), nil
}

// ReadPDF extracts the plain text of every page of a PDF.
func ReadPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", path, err)
	}
	return string(b), nil
}

// Normalize applies NFKC and converts line endings to \n. PDF extraction
// produces ligatures and non-breaking spaces that would otherwise defeat
// the separator matching in the chunker.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.ReplaceAll(text, "\x00", "")
}

// LoadDir reads all .txt and .md files under root in fsys, in lexical
// order, and joins them with a blank line.
func LoadDir(fsys fs.FS, root string) (string, error) {
	var paths []string
	err := fs.WalkDir(fsys, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip directories
		if d.IsDir() {
			return nil
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(paths)

	parts := make([]string, 0, len(paths))
	for _, path := range paths {
		content, err := fs.ReadFile(fsys, path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		parts = append(parts, Normalize(string(content)))
	}
	return strings.Join(parts, "\n\n"), nil
}

// Load reads path, which may be a single document or a directory of text
// files.
func Load(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("document not found: %w", err)
	}
	if info.IsDir() {
		return LoadDir(os.DirFS(path), ".")
	}
	return ReadDocument(path)
}

// LoadAndChunk loads the document at path and splits it into passages.
func LoadAndChunk(path string, splitter *chunker.Splitter) ([]chunker.Passage, error) {
	text, err := Load(path)
	if err != nil {
		return nil, err
	}
	passages := splitter.Split(text)
	if len(passages) == 0 {
		return nil, fmt.Errorf("%s: %w", path, chunker.ErrEmptyDocument)
	}
	return passages, nil
}

// Download fetches url into dest unless dest already exists. It reports
// whether a download happened.
func Download(ctx context.Context, client *http.Client, url, dest string) (bool, error) {
	if _, err := os.Stat(dest); err == nil {
		return false, nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return false, fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return false, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return false, err
	}
	return true, nil
}
