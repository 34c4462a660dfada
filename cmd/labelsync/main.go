// Command labelsync uploads tabular datasets to the annotation platform.
package main

import (
	"os"

	"labelsync/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
