package main

import (
	"os"

	"github.com/psantana5/hpoprun/cmd/hpoprun/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
