// Package main is the entry point for the filegraph CLI.
package main

import (
	"os"

	"github.com/filegraph/filegraph/cmd/filegraph/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
