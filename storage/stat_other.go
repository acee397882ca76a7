//go:build !linux

package storage

import (
	"os"
	"time"
)

func createdTime(fi os.FileInfo) time.Time {
	return fi.ModTime()
}
