package main

import (
	"os"

	"github.com/malbeclabs/latencymap/internal/cli"
)

func main() {
	os.Exit(int(cli.Run()))
}
