//go:build !unix

package fs

import "io/fs"

// stableID is unavailable here; metadata is keyed by path only and does not
// follow renames made outside shx.
func stableID(fs.FileInfo) string { return "" }
