package main

import (
	"os"

	"github.com/nholik/ssh-sentinel/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
