package main

import (
	"os"

	"github.com/omen-fan/omen-fan/pkg/util"
)

var (
	Version string
	Commit  string
	Date    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		util.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}
