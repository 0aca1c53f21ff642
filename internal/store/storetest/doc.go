// Package storetest checks implementations of domain.CryptoStore against
// the behaviour the services rely on.
package storetest
