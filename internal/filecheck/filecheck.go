// Package filecheck asserts the on-disk state left behind by the checkpoint stores and the source staging.
package filecheck

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Checker chains checks on a single path.
type Checker struct {
	path   string
	checks []func(string) error
}

// New creates a Checker for the given path.
func New(path string) *Checker {
	return &Checker{path: path}
}

// Check runs every check and joins the failures.
func (c *Checker) Check() error {
	var errs []error
	for _, check := range c.checks {
		if err := check(c.path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsDir adds a check that the path is a directory.
func (c *Checker) IsDir() *Checker {
	c.checks = append(c.checks, func(path string) error {
		info, err := lstat(path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("expected directory but not a directory: %s", path)
		}
		return nil
	})
	return c
}

// IsFile adds a check that the path is a regular file.
func (c *Checker) IsFile() *Checker {
	c.checks = append(c.checks, func(path string) error {
		info, err := lstat(path)
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("expected regular file: %s", path)
		}
		return nil
	})
	return c
}

// Absent adds a check that nothing exists at the path.
func (c *Checker) Absent() *Checker {
	c.checks = append(c.checks, func(path string) error {
		_, err := os.Lstat(path)
		if err == nil {
			return fmt.Errorf("expected %s to be removed", path)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("lstat %s: %w", path, err)
		}
		return nil
	})
	return c
}

// ModeEquals adds a check that the path has the given permission bits.
func (c *Checker) ModeEquals(perm os.FileMode) *Checker {
	c.checks = append(c.checks, func(path string) error {
		info, err := lstat(path)
		if err != nil {
			return err
		}
		if got := info.Mode().Perm(); got != perm.Perm() {
			return fmt.Errorf("mode mismatch for %s: want %o got %o", path, perm.Perm(), got)
		}
		return nil
	})
	return c
}

// Content adds a check that the file at the path holds exactly the given bytes.
func (c *Checker) Content(want []byte) *Checker {
	c.checks = append(c.checks, func(path string) error {
		got, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if string(got) != string(want) {
			return fmt.Errorf("content mismatch for %s: want %d bytes got %d bytes", path, len(want), len(got))
		}
		return nil
	})
	return c
}

func lstat(path string) (os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("path does not exist: %s", path)
		}
		return nil, fmt.Errorf("lstat %s: %w", path, err)
	}
	return info, nil
}
