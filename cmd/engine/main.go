// Command engine is the operator CLI for the radiology workflow service:
// configuration checks, routing dry-runs and catalog inspection.
package main

import (
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
