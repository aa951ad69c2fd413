package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/perbu/regrag/pkg/config"
)

var flagInitForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default regrag.yaml",
	Long: `Write the default configuration to regrag.yaml (or the path given with
--config). The OpenAI API key is never written; set OPENAI_API_KEY in the
environment or in a .env file.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(_ *cobra.Command, _ []string) error {
	path := flagConfig
	if path == "" {
		path = config.DefaultFile
	}
	if err := writeDefaultConfig(path, flagInitForce); err != nil {
		return err
	}
	printOK("Wrote " + path)
	printInfo("Next: generate-embeddings -download, then regrag serve")
	return nil
}

func writeDefaultConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return config.Save(config.Default(), path)
}
