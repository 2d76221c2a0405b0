package main

import (
	"github.com/rostergate/rostergate/cli/cmd"
)

func main() {
	cmd.Execute()
}
