package objectkey

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"
)

// checksum returns the hex BLAKE3 digest of the files matching the patterns. Patterns are relative to the
// working directory and may use doublestar globs, like `**/*.gradle`.
//
// Each file contributes its slash separated path and the digest of its content, in path order.
// Patterns matching no file are an error.
func (m Model) checksum(patterns ...string) (string, error) {
	workingDir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}

	files := m.matchFiles(workingDir, patterns)
	if len(files) == 0 {
		return "", fmt.Errorf("checksum: no file matches %s", strings.Join(patterns, ", "))
	}

	digest := blake3.New()
	for _, file := range files {
		sum, err := hashFile(file)
		if err != nil {
			return "", fmt.Errorf("checksum: %w", err)
		}
		m.logger.Debugf("- %s %x", file, sum)

		_, _ = digest.Write([]byte(filepath.ToSlash(file)))
		_, _ = digest.Write([]byte{0})
		_, _ = digest.Write(sum)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// matchFiles expands the patterns to the sorted set of regular files they name.
func (m Model) matchFiles(workingDir string, patterns []string) []string {
	seen := map[string]bool{}
	for _, pattern := range patterns {
		candidates := []string{pattern}
		if strings.ContainsAny(pattern, "*?[{") {
			matches, err := doublestar.Glob(os.DirFS(workingDir), filepath.ToSlash(pattern))
			if err != nil {
				m.logger.Warnf("Invalid pattern %q: %s", pattern, err)
				continue
			}
			candidates = matches
		}

		for _, candidate := range candidates {
			pth := filepath.Clean(filepath.FromSlash(candidate))
			if info, err := os.Stat(pth); err != nil || !info.Mode().IsRegular() {
				continue
			}
			seen[pth] = true
		}
	}

	files := make([]string, 0, len(seen))
	for pth := range seen {
		files = append(files, pth)
	}
	sort.Strings(files)
	return files
}
