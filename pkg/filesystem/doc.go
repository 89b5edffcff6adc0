// Package filesystem provides the OS implementation of types.FS and the
// file backend used by the diff engine and the transaction.
//
// Links are placed at a temporary sibling name and renamed over the
// destination, so a destination is never observed missing. Backups are
// full copies and are never removed by this package.
package filesystem
