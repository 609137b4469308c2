// Command codesync runs the workspace relay and its client commands.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/codesync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
