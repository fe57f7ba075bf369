// Package main provides the entry point for the newsline CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/newsline/cmd/newsline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
