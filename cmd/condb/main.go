// Package main is the entry point for the condb CLI binary.
package main

import (
	"os"

	cli "hps-conditions/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
