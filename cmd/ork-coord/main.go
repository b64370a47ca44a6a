// Package main is the entry point for the ork-coord CLI.
package main

import (
	"fmt"
	"os"

	"github.com/orchestkit/ork-coord/internal/cmd"
	"github.com/orchestkit/ork-coord/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var exitErr *errors.ExitError
		if errors.As(err, &exitErr) && exitErr.Suggestion != "" {
			fmt.Fprintln(os.Stderr, "Hint:", exitErr.Suggestion)
		}
		os.Exit(errors.ExitCode(err))
	}
}
