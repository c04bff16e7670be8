//go:build !unix

package storage

import "os"

// Advisory locking is only implemented on unix; elsewhere the store-level run
// claim is the only cross-process protection.
func flock(*os.File, bool) error { return nil }

func funlock(*os.File) error { return nil }
