package main

import (
	"os"

	"github.com/baptistax/ice-probe/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
