// Package main is the entry point for the reencodarr application.
package main

import (
	"os"

	"github.com/mjc/reencodarr-sub000/cmd/reencodarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
