// Command marketadmin manages the ordered collections of the marketplace
// admin API.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/marketadmin/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
