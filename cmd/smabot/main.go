package main

import (
	"os"

	"smabot/cmd/smabot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
