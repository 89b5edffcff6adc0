// Package testutil provides in-memory package and service backends with
// failure injection, plus helpers for building declared state in tests.
package testutil
