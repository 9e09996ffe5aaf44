// Package main provides the entry point for the chatmemory service and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/ent0n29/chatmemory/cmd/chatmemory/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
