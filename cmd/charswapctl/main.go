// Package main provides charswapctl, the operator CLI for a charswap server.
package main

import (
	"fmt"
	"os"

	"github.com/maauso/charswap/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
