// Package objectkey derives stable object keys for upload targets.
//
// A key is also the checkpoint lookup key, so it must not change between runs
// that upload the same file.
package objectkey

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

const maxKeyLength = 1024

// FromPath returns the hex MD5 of the absolute source path.
func FromPath(pth string) (string, error) {
	absPth, err := filepath.Abs(pth)
	if err != nil {
		return "", fmt.Errorf("absolute path of %s: %w", pth, err)
	}
	sum := md5.Sum([]byte(absPth))
	return hex.EncodeToString(sum[:]), nil
}

// FromContent returns the hex BLAKE3 digest of the file content.
func FromContent(pth string) (string, error) {
	sum, err := hashFile(pth)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// hashFile streams the file through BLAKE3.
func hashFile(pth string) ([]byte, error) {
	f, err := os.Open(pth)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	hash := blake3.New()
	if _, err := io.Copy(hash, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", pth, err)
	}
	return hash.Sum(nil), nil
}

// Validate normalizes a key and rejects the ones object stores refuse.
func Validate(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("key must not be empty")
	}
	if len(key) > maxKeyLength {
		return "", fmt.Errorf("key is %d bytes long, the maximum is %d", len(key), maxKeyLength)
	}
	if strings.ContainsAny(key, "\x00\r\n") {
		return "", fmt.Errorf("key contains control characters")
	}
	return key, nil
}
