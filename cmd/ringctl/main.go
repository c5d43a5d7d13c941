package main

import (
	"os"

	"ringline/cmd/ringctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
