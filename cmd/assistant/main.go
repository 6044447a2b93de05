package main

import (
	"os"

	"github.com/lexiqai/speech-assistant/cmd/assistant/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
