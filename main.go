package main

import (
	"os"

	"github.com/avoskres/satseg/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
