package main

import (
	"os"

	"github.com/AndrewLee0430/medinotes/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
