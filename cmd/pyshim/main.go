package main

import (
	"os"

	"github.com/andywolf/pyshim/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
