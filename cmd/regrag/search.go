package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/perbu/regrag/pkg/chunker"
	"github.com/perbu/regrag/pkg/index"
)

var (
	flagSearchK         int
	flagSearchThreshold float64
	flagSearchFull      bool
	flagSearchContext   int
	flagSearchVerbose   bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the passages most similar to a query, without generating an answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&flagSearchK, "k", 5, "Number of results to return")
	searchCmd.Flags().Float64Var(&flagSearchThreshold, "threshold", 0, "Minimum similarity score")
	searchCmd.Flags().BoolVar(&flagSearchFull, "full", false, "Show full passage text")
	searchCmd.Flags().IntVar(&flagSearchContext, "context", 0, "Number of surrounding passages to show (file backend)")
	searchCmd.Flags().BoolVar(&flagSearchVerbose, "verbose", false, "Enable verbose output for debugging")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	var minScore *float64
	if cmd.Flags().Changed("threshold") {
		minScore = &flagSearchThreshold
	}
	a, err := setup(false, minScore)
	if err != nil {
		return err
	}
	defer a.store.Close()
	if err := a.requireIndex(); err != nil {
		return err
	}

	query := strings.Join(args, " ")
	if flagSearchVerbose {
		printInfo(fmt.Sprintf("index %s (%s backend), embedder %s", a.cfg.IndexPath, a.cfg.Backend, a.emb.ModelInfo()))
		printInfo(fmt.Sprintf("searching with k=%d for %q", flagSearchK, query))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	results, err := a.store.Query(ctx, query, flagSearchK)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	var neighbors func(position int) []chunker.Passage
	if flagSearchContext > 0 {
		neighbors, err = neighborLookup(a.store, flagSearchContext)
		if err != nil {
			printWarn(err.Error())
		}
	}

	printOK(fmt.Sprintf("Found %s", plural(len(results), "result")))
	fmt.Println()
	for i, r := range results {
		p := r.Passage
		fmt.Printf("Score: %.3f | passage %d [bytes %d-%d]\n", r.Score, p.Position, p.Start, p.End)

		switch {
		case neighbors != nil:
			fmt.Println()
			around := neighbors(p.Position)
			for j, n := range around {
				if n.Position == p.Position {
					fmt.Println(">>> MATCHED PASSAGE <<<")
				}
				fmt.Println(strings.TrimSpace(n.Text))
				if j < len(around)-1 {
					fmt.Println()
				}
			}
		case flagSearchFull:
			fmt.Println()
			fmt.Println(strings.TrimSpace(p.Text))
		default:
			fmt.Printf("  %s\n", preview(p.Text, 100))
		}

		if (flagSearchFull || neighbors != nil) && i < len(results)-1 {
			fmt.Println("\n" + strings.Repeat("-", 80) + "\n")
		}
	}
	return nil
}

// neighborLookup returns a function listing the passages around a position.
// Only the file backend keeps passages in memory.
func neighborLookup(store index.Store, n int) (func(int) []chunker.Passage, error) {
	fs, ok := store.(*index.FileStore)
	if !ok {
		return nil, fmt.Errorf("--context is only supported with the file backend")
	}
	idx, err := fs.Index()
	if err != nil {
		return nil, err
	}
	return func(position int) []chunker.Passage {
		return idx.Neighbors(position, n)
	}, nil
}

func preview(text string, n int) string {
	s := strings.Join(strings.Fields(text), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
