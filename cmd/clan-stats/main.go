// Package main provides the entry point for the clan-stats CLI.
package main

import (
	"github.com/uayebforever/clan-stats/internal/cli"
)

func main() {
	cli.Execute()
}
