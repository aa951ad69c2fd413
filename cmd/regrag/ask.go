package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagAskSources bool
	flagAskTimeout time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a single question from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&flagAskSources, "sources", false, "Print the passages the answer was based on")
	askCmd.Flags().DurationVar(&flagAskTimeout, "timeout", 60*time.Second, "Overall timeout for retrieval and generation")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := setup(true, nil)
	if err != nil {
		return err
	}
	defer a.store.Close()
	if err := a.requireIndex(); err != nil {
		return err
	}

	ans, err := a.answerer()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flagAskTimeout)
	defer cancel()

	resp, err := ans.Answer(ctx, strings.Join(args, " "))
	if err != nil {
		if len(resp.Sources) > 0 {
			printWarn("generation failed; retrieved passages follow")
			printSources(resp.Sources)
		}
		return err
	}

	fmt.Println(resp.Answer)
	if flagAskSources {
		fmt.Println()
		printSources(resp.Sources)
	}
	return nil
}

func printSources(sources []string) {
	fmt.Printf("Sources (%s):\n\n", plural(len(sources), "passage"))
	for i, s := range sources {
		fmt.Printf("[%d] %s\n", i+1, s)
		if i < len(sources)-1 {
			fmt.Println()
		}
	}
}
