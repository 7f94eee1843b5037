package main

import (
	"os"

	"github.com/sprite-ai/revpad/internal/cli"
)

func main() {
	os.Exit(cli.ExitCode(cli.Execute()))
}
