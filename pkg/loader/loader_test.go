package loader

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/perbu/regrag/pkg/chunker"
)

//go:embed testdata/*
var testFS embed.FS

func TestNormalize(t *testing.T) {
	in := "Zone 15\r\nSeason: open ﬁve days\rLimits: S－2\x00"
	got := Normalize(in)
	want := "Zone 15\nSeason: open five days\nLimits: S-2"
	if got != want {
		t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
	}
}

func TestReadDocument_Text(t *testing.T) {
	text, err := ReadDocument(filepath.Join("testdata", "regulations.txt"))
	if err != nil {
		t.Fatalf("ReadDocument: %v", err)
	}
	if !strings.Contains(text, "Smallmouth Bass S-2 and C-1") {
		t.Errorf("document text missing expected content")
	}
}

func TestReadDocument_Missing(t *testing.T) {
	if _, err := ReadDocument(filepath.Join("testdata", "nope.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReadPDF_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadDocument(path); err == nil {
		t.Error("expected error for invalid PDF")
	}
}

func TestLoadDir(t *testing.T) {
	text, err := LoadDir(testFS, "testdata")
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	i15 := strings.Index(text, "Zone 15")
	i17 := strings.Index(text, "Zone 17")
	if i15 < 0 || i17 < 0 || i17 < i15 {
		t.Errorf("files missing or out of order: 15@%d 17@%d", i15, i17)
	}
	if strings.Contains(text, "\r") {
		t.Error("carriage returns not normalized")
	}
}

func TestLoadAndChunk(t *testing.T) {
	splitter, err := chunker.New(chunker.Options{Size: 120, Overlap: 20})
	if err != nil {
		t.Fatal(err)
	}
	passages, err := LoadAndChunk(filepath.Join("testdata", "regulations.txt"), splitter)
	if err != nil {
		t.Fatalf("LoadAndChunk: %v", err)
	}
	if len(passages) < 2 {
		t.Fatalf("expected several passages, got %d", len(passages))
	}
	text, err := Load(filepath.Join("testdata", "regulations.txt"))
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range passages {
		if p.Position != i {
			t.Errorf("passage %d has position %d", i, p.Position)
		}
		if text[p.Start:p.End] != p.Text {
			t.Errorf("passage %d does not match its source span", i)
		}
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	if err := os.WriteFile(empty, []byte(" \n\n "), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadAndChunk(empty, splitter); !errors.Is(err, chunker.ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestDownload(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("User-Agent") != UserAgent {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "data", "regulations.pdf")
	fetched, err := Download(context.Background(), srv.Client(), srv.URL, dest)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !fetched {
		t.Error("expected a download")
	}
	b, err := os.ReadFile(dest)
	if err != nil || string(b) != "%PDF-1.4 fake" {
		t.Errorf("unexpected file content %q (%v)", b, err)
	}

	fetched, err = Download(context.Background(), srv.Client(), srv.URL, dest)
	if err != nil || fetched {
		t.Errorf("second download should be skipped: fetched=%v err=%v", fetched, err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 request, got %d", hits.Load())
	}
}

func TestDownload_Status(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "regulations.pdf")
	if _, err := Download(context.Background(), nil, srv.URL, dest); err == nil {
		t.Fatal("expected error on 404")
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("no file should be left behind")
	}
}
