package main

import (
	"os"

	"github.com/getodyssey/odyssey-companion-go/cmd/odyssey-cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
