// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile      = "mentionbot.pid"
	ConfigFile   = "config.toml"
	LogFile      = "mentionbot.log"
	StateFile    = "state.toml"
	DatabaseFile = "state.db"
)

// Installation constants.
const (
	BinaryName = "mentionbot"
	DataDirRel = ".mentionbot" // relative to $HOME
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// State returns the full path to the TOML cursor store used by the "file"
// store backend.
func (d DataDir) State() string { return filepath.Join(d.Root, StateFile) }

// Database returns the full path to the SQLite cursor store used by the
// "sqlite" store backend.
func (d DataDir) Database() string { return filepath.Join(d.Root, DatabaseFile) }
