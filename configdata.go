// Package mentionbot embeds the default configuration shipped with the
// binary. The daemon copies [DefaultConfigTOML] into the data directory on
// first run.
package mentionbot

import _ "embed"

// DefaultConfigTOML holds config.default.toml, generated by cmd/genconfig.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
