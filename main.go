package main

import (
	"os"

	"github.com/charmbracelet/log"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	log.SetReportTimestamp(true)
	if err := newRootCmd().Execute(); err != nil {
		log.Error("command failed", "err", err)
		os.Exit(1)
	}
}
