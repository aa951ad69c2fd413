package main

import (
	"fmt"
	"os"
)

// Icons: ✓ success, ⚠ warning, ✗ error (stderr), ~ info.

func printOK(msg string) {
	fmt.Printf("  ✓ %s\n", msg)
}

func printWarn(msg string) {
	fmt.Printf("  ⚠ %s\n", msg)
}

func printErr(msg string) {
	fmt.Fprintf(os.Stderr, "  ✗ %s\n", msg)
}

func printInfo(msg string) {
	fmt.Printf("  ~ %s\n", msg)
}
