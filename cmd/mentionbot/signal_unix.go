//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals cancel the root context. SIGTERM is what systemd,
// launchd and container runtimes send to stop the daemon.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
