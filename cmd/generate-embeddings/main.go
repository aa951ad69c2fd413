package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perbu/regrag/pkg/chunker"
	"github.com/perbu/regrag/pkg/config"
	"github.com/perbu/regrag/pkg/embedder"
	"github.com/perbu/regrag/pkg/index"
	"github.com/perbu/regrag/pkg/loader"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default regrag.yaml if present)")
	download := flag.Bool("download", false, "download the regulations PDF if it is missing")
	force := flag.Bool("force", false, "remove an existing index and rebuild it")
	workers := flag.Int("workers", 10, "concurrent embedding requests")
	flag.Parse()

	fmt.Println("regrag Embedding Generation Tool")
	fmt.Println("================================")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *download, *force, *workers); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("\n\n⚠ Interrupted.")
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, download, force bool, workers int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(false); err != nil {
		return fmt.Errorf("%w\nPlease set it in .env file or environment", err)
	}

	// Step 1: Fetch the source document
	if download {
		fmt.Println("Step 1: Downloading the regulations document...")
		fetched, err := loader.Download(ctx, nil, cfg.DocumentURL, cfg.DocumentPath)
		if err != nil {
			return err
		}
		if fetched {
			fmt.Printf("  ✓ Downloaded %s\n\n", cfg.DocumentPath)
		} else {
			fmt.Printf("  ✓ %s already exists, skipping download\n\n", cfg.DocumentPath)
		}
	}

	// Step 2: Initialize embedder and store
	fmt.Println("Step 2: Initializing embedder...")
	emb, err := embedder.NewFromConfig(cfg.EmbedderConfig())
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	fmt.Printf("  ✓ Embedder initialized (model=%s, dim=%d)\n\n", emb.ModelInfo(), emb.Dimension())

	if force {
		if err := removeIndex(cfg.IndexPath); err != nil {
			return err
		}
	}

	var lastReport time.Time
	progress := func(done, total int) {
		if done == total || time.Since(lastReport) > 500*time.Millisecond {
			lastReport = time.Now()
			fmt.Printf("\r  Progress: %d/%d (%.1f%%)", done, total, float64(done)/float64(total)*100)
			if done == total {
				fmt.Println()
			}
		}
	}
	store, err := index.Open(cfg.Backend, cfg.IndexPath, emb, index.Options{
		Workers:  workers,
		Progress: progress,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if store.IsReady() {
		fmt.Printf("Index already exists at %s, nothing to do.\n", cfg.IndexPath)
		fmt.Println("Use -force to rebuild it.")
		return nil
	}

	// Step 3: Load and chunk the document
	fmt.Println("Step 3: Loading and chunking the document...")
	splitter, err := chunker.New(chunker.Options{Size: cfg.Chunk.Size, Overlap: cfg.Chunk.Overlap})
	if err != nil {
		return err
	}
	passages, err := loader.LoadAndChunk(cfg.DocumentPath, splitter)
	if err != nil {
		if !download {
			return fmt.Errorf("%w\nRun with -download to fetch the document", err)
		}
		return err
	}
	fmt.Printf("  ✓ Split %s into %d passages (size=%d, overlap=%d)\n\n",
		cfg.DocumentPath, len(passages), cfg.Chunk.Size, cfg.Chunk.Overlap)

	// Step 4: Embed and persist
	fmt.Println("Step 4: Generating embeddings...")
	if cfg.Embeddings.Provider == "openai" {
		fmt.Printf("  (This will call the OpenAI API up to %d times, ~$%.2f estimated cost)\n", len(passages), float64(len(passages))*0.00002)
	}
	start := time.Now()
	if err := store.Build(ctx, passages); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println(interruptNotice(cfg.Backend))
			return nil
		}
		return err
	}
	fmt.Printf("  ✓ Generated %d embeddings in %s\n\n", len(passages), time.Since(start).Round(time.Millisecond))

	if info, err := os.Stat(cfg.IndexPath); err == nil {
		fmt.Printf("  ✓ Saved to %s (%.2f MB)\n\n", cfg.IndexPath, float64(info.Size())/(1024*1024))
	}

	fmt.Println("Done! The index is ready for use.")
	fmt.Println("Run 'regrag serve' to start the API.")
	return nil
}

// interruptNotice tells the user what an interrupted build left behind.
// Only the file backend checkpoints; SQLite builds in one transaction.
func interruptNotice(backend string) string {
	if backend == "sqlite" {
		return "\n\n⚠ Interrupted. Nothing was saved; the next run starts over."
	}
	return "\n\n⚠ Interrupted. Progress saved to checkpoint; run again to resume."
}

// removeIndex deletes an index and its checkpoint.
func removeIndex(path string) error {
	for _, p := range []string{path, path + ".checkpoint"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", p, err)
		}
	}
	fmt.Printf("  ✓ Removed existing index %s\n\n", path)
	return nil
}
