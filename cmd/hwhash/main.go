package main

import (
	"os"

	"github.com/glinharesb/hwhash/internal/cli"
)

func main() {
	os.Exit(cli.Main(cli.NewHashCommand(cli.DefaultEnv())))
}
