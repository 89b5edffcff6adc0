// Package types defines the data model shared by the diff engine, the
// transaction and the capability backends: declared state, observed actual
// state, operations and their results.
package types
