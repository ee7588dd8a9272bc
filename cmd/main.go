// Package main provides the entry point for the pelusa-live server.
package main

import (
	"fmt"
	"os"

	"github.com/pelusa-v/pelusa-live/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
