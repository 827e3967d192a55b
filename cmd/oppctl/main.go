package main

import (
	"os"

	"github.com/rankwell/opportunity-engine/cmd/oppctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
