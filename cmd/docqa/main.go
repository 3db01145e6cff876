// Command docqa is the entry point for the document Q&A service. It ingests
// document text into per-owner collections and answers questions against
// them, either from the CLI or through the HTTP API started by `docqa serve`.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/docqa-go/cmd/docqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
