// Package migrate upgrades versioned on-disk files (config.toml and the
// state.toml cursor store) one schema version at a time.
package migrate

import (
	"fmt"
	"log/slog"
	"sort"
)

// Migration upgrades data from the previous schema version to Version.
type Migration struct {
	Version     int
	Description string
	Upgrade     func(data []byte) ([]byte, error)
}

// Registry holds the schema version and upgrade steps for one file kind.
// Each kind has its own instance so version numbers are independent.
type Registry struct {
	// Name labels the file kind in log lines and errors.
	Name string
	// CurrentVersion is the version this binary reads and writes.
	CurrentVersion int
	// Migrations is exported so tests can substitute the list.
	Migrations []Migration
}

// Config is the registry for config.toml.
var Config = &Registry{Name: "config", CurrentVersion: 1}

// Store is the registry for state.toml. Version 1 is the flat camelCase
// layout (sinceMentionId, refreshToken); version 2 nests values under
// [values].
var Store = &Registry{Name: "store", CurrentVersion: 2}

// Register adds m. It panics on a duplicate version or one beyond
// CurrentVersion, both of which are programming errors caught at init.
func (r *Registry) Register(m Migration) {
	if m.Version > r.CurrentVersion {
		panic(fmt.Sprintf("migrate: %s: migration v%d is newer than current version %d", r.Name, m.Version, r.CurrentVersion))
	}
	for _, existing := range r.Migrations {
		if existing.Version == m.Version {
			panic(fmt.Sprintf("migrate: %s: duplicate migration version %d (description: %q)", r.Name, m.Version, m.Description))
		}
	}
	r.Migrations = append(r.Migrations, m)
}

// NeedsMigration reports whether a file written at fileVersion must pass
// through [Registry.Run] before it can be decoded.
func (r *Registry) NeedsMigration(fileVersion int) bool {
	return fileVersion != r.CurrentVersion
}

// Run applies, in version order, every registered step above fromVersion
// and returns the upgraded data and the version reached. A file newer than
// CurrentVersion is rejected: it was written by a newer binary and
// downgrading it would lose data.
func (r *Registry) Run(data []byte, fromVersion int) ([]byte, int, error) {
	if fromVersion > r.CurrentVersion {
		return nil, fromVersion, fmt.Errorf("%s: file version %d is newer than supported version %d", r.Name, fromVersion, r.CurrentVersion)
	}

	steps := make([]Migration, 0, len(r.Migrations))
	for _, m := range r.Migrations {
		if m.Version > fromVersion {
			steps = append(steps, m)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })

	version := fromVersion
	for _, m := range steps {
		slog.Info("applying migration", "target", r.Name, "version", m.Version, "description", m.Description)
		out, err := m.Upgrade(data)
		if err != nil {
			return nil, version, fmt.Errorf("%s: migration to v%d failed: %w", r.Name, m.Version, err)
		}
		data, version = out, m.Version
	}
	return data, version, nil
}
