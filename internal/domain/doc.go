// Package domain defines the data models and contracts shared across
// keyward. It holds plain types (wire and state) and interfaces only.
//
// The types live in the types subpackage and the contracts in interfaces;
// this package re-exports both under short names so services can import a
// single package.
package domain
