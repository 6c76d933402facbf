// Command beacon logs telemetry events into a local queue and uploads
// them to a collector.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/beacon/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
