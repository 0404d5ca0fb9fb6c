package main

import (
	"os"

	"github.com/grovetools/multiworld/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
