// Package config loads runtime configuration from a TOML file, with
// defaults that work without any file at all.
package config
