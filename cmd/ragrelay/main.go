// Package main is the entry point for the ragrelay gateway.
//
// Usage:
//
//	ragrelay [--config path] <command> [args]
//
// Commands:
//
//	serve       - Run the HTTP gateway
//	migrate     - Create the transcript store schema
//	transcript  - Print (and optionally check) a stored transcript
package main

import (
	"fmt"
	"os"

	"github.com/0xcro3dile/ragrelay-go/cmd/ragrelay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
