package main

import (
	"os"

	"github.com/hupe1980/agentcontext/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
