package main

import (
	"os"

	"github.com/pricofy/translation-router/cmd/translation-router/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
