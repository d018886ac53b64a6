// bbdev runs a board-bound development workspace.
package main

import (
	"os"

	"github.com/board-bound/workspace/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
