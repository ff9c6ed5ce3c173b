package main

import (
	"os"

	"github.com/codeaudit/ml-1/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.New(version).Run(); err != nil {
		os.Exit(1)
	}
}
