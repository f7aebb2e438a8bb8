package main

import (
	"os"

	"github.com/prl900/bandstack/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
