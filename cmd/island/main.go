// Command island runs reflectors and headless replicas, and audits stored
// sessions.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/island/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
