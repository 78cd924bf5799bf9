// Command nciplot runs NCIPlot jobs from the command line or as an MCP server.
package main

import (
	"fmt"
	"os"

	"github.com/insilichem/tangram-nciplot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "nciplot: %v\n", err)
		os.Exit(1)
	}
}
