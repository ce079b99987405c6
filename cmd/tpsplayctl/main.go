// Package main is the entry point for the tpsplayctl CLI.
package main

import (
	"os"

	"github.com/jmylchreest/tpsplay/cmd/tpsplayctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
