package main

import (
	"os"

	"unremark/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
