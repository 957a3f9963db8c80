package main

import (
	"os"

	"github.com/igorsilveira/codebot/cmd/codebot"
)

func main() {
	if err := codebot.Execute(); err != nil {
		os.Exit(1)
	}
}
