// Package config defines the packwright settings snapshot and the TOML
// loader that produces it.
//
// Settings values are plain data. Components receive a snapshot at
// construction time and updated snapshots through UpdateSettings-style
// calls; nothing in this package reads ambient global state. Loading
// applies files in order, so later paths (project configuration)
// override earlier ones (user configuration).
package config
