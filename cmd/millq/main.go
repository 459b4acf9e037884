// Package main is the entry point for the millq CLI binary.
package main

import (
	"os"

	cli "millq/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
