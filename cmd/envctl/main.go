// Package main provides the envctl CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/opsforge/envctl/internal/cli"
	"github.com/opsforge/envctl/pkg/errors"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
}
