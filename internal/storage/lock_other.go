//go:build !unix

package storage

import "os"

func lockFile(f *os.File, exclusive bool) error {
	return nil
}

func unlockFile(f *os.File) error {
	return nil
}
