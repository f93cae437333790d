package main

import (
	"os"

	"github.com/VladislavPavlyuk/timeserver/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
