//go:build !linux && !darwin

package fs

import (
	"io/fs"
	"time"
)

func birthTime(string, fs.FileInfo) time.Time { return time.Time{} }
