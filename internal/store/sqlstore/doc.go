// Package sqlstore implements domain.CryptoStore on SQLite.
//
// Connections come from a zombiezen sqlitex pool with WAL journaling;
// every multi-row write (replacing a user's device map) runs in a single
// IMMEDIATE transaction, so a reader never observes half of an update.
// The account row holds the same sealed pickle the file store writes.
package sqlstore
