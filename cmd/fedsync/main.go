package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/comalice/fedsync/cmd/fedsync/commands"
)

const (
	cmdName = "fedsync"

	shortDesc = "Run and inspect synchronized simulation federations."
	longDesc  = `fedsync runs simulation federates that agree on named synchronization
points, and hands data between each federate's main thread and its
multi-rate worker threads at cycle boundaries.

A federation file declares the federates, their synchronization lists and
their threads. "fedsync run" executes every federate over an in-process
federation, "fedsync validate" checks a file, and "fedsync report" renders
a checkpoint.
`
)

func main() {
	cmd := commands.NewRootCmd(cmdName, shortDesc, longDesc)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimLeft(err.Error(), "\n"))
		os.Exit(1)
	}
}
