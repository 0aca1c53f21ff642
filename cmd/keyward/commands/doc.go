// Package commands defines the keyward CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init         Create or load the local account and print its keys
//   - fingerprint  Print the signing key fingerprint
//   - share-keys   Upload device keys and top up one-time keys
//   - query        Fetch and validate device lists from the homeserver
//   - devices      List stored devices of a user
//   - sync         Feed a saved /sync response through the key machinery
//
// # Implementation
//
// The root command loads the config file, applies flag overrides and builds
// the dependency graph (stores, homeserver client, orchestrator) before any
// subcommand runs. Backends are closed after the subcommand returns.
package commands
