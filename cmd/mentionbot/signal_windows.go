//go:build windows

package main

import "os"

// shutdownSignals cancel the root context. Windows has no SIGTERM; the
// runtime maps Ctrl+C, Ctrl+Break and console close to os.Interrupt.
var shutdownSignals = []os.Signal{os.Interrupt}
