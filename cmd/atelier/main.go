// Package main provides the entry point for the atelier CLI.
package main

import (
	"fmt"
	"os"

	"github.com/atelier-dev/atelier/cmd/atelier/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
