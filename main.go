package main

import (
	"fmt"
	"os"

	"github.com/arlberg/backstop/cmd"
)

const (
	EXIT_SUCCESS = iota
	EXIT_FAILURE
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(EXIT_FAILURE)
	}

	os.Exit(EXIT_SUCCESS)
}
