package main

import (
	"os"
	"syscall"
)

// statWindow resolves the (size, inode, mtime) triple the window
// cache keys on, for internal/reader.NewCachedFileReader.
func statWindow(path string) (size int64, ino uint64, modTimeUnix int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, 0, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), 0, info.ModTime().Unix(), nil
	}
	return info.Size(), stat.Ino, info.ModTime().Unix(), nil
}
