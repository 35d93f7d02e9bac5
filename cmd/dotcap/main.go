package main

import (
	"os"

	"github.com/moby/sys/reexec"
)

func main() {
	// A re-executed child entering a host namespace for attach.
	if reexec.Init() {
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
