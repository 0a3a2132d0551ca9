// Command forgecache is an offline-first cache of forge repositories, pull
// requests, issues, branches and CI checks.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/forgecache/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
