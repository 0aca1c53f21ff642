// Package app loads keyward configuration and wires application
// dependencies for the CLI.
//
// Configuration comes from one YAML file named by the --config flag or the
// KEYWARD_CONFIG environment variable. Without either, defaults apply.
// Command-line flags override file values. NewWire builds the key store,
// the membership state backend, the homeserver client, the orchestrator and
// the sync dispatcher from a validated Config.
package app
