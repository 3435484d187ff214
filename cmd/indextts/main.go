package main

import (
	"os"

	"github.com/lexiqai/indextts-gateway/cmd/indextts/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
