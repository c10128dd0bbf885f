// Package main provides the romstash CLI tool for inspecting SNES ROMs,
// scanning them for compressed sprites and extracting what it finds.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
