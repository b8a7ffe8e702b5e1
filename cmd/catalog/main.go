// Command catalog keeps a queryable replica of entities from a remote
// system in sync and serves nested reads over it.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/catalog/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
