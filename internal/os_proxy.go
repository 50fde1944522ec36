package internal

import (
	"os"
)

// OsProxy defines the subset of os package functions the file based checkpoint store uses.
// Add more methods as you need them.
type OsProxy interface {
	MkdirAll(path string, perm os.FileMode) error
	Open(name string) (*os.File, error)
	CreateTemp(dir, pattern string) (*os.File, error)
	ReadFile(name string) ([]byte, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
}

// RealOS is the default implementation that delegates to the real os package.
type RealOS struct{}

func (RealOS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }     //nolint:revive
func (RealOS) Open(name string) (*os.File, error)           { return os.Open(name) }               //nolint:revive
func (RealOS) ReadFile(name string) ([]byte, error)         { return os.ReadFile(name) }           //nolint:revive
func (RealOS) Remove(name string) error                     { return os.Remove(name) }             //nolint:revive
func (RealOS) Rename(oldpath, newpath string) error         { return os.Rename(oldpath, newpath) } //nolint:revive

//nolint:revive
func (RealOS) CreateTemp(dir, pattern string) (*os.File, error) {
	return os.CreateTemp(dir, pattern)
}
