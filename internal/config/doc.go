// Package config reads the norc TOML file shared by tmsd, tmsd-run-task and
// the norc CLI.
//
// Load merges three layers: built-in defaults, the config file (unknown keys
// are an error), and the NORC_LOG_DIR and NORC_REGISTRY_PATH environment
// overrides. The result has absolute paths and canonical backend and log
// format names. Flag handling stays in the binaries; they apply their flags
// to the loaded Config and call Validate again.
package config
