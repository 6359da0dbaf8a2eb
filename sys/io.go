package sys

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Exists returns true if the filename or directory path exists.
func Exists(fn string) bool {
	_, err := os.Stat(fn)
	return err == nil
}

// DirSize returns the number of regular files under dir and their total size.
// A missing dir is empty.
func DirSize(dir string) (files int, size int64, err error) {
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}
