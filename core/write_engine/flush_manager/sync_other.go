//go:build !linux

package flushmanager

import "os"

func syncData(f *os.File) error {
	return f.Sync()
}
