package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
)

// Compressor stages zstd compressed copies of sources.
//
// The copy is named after the checksum of the source and is reused while it
// exists, so every run resuming the same upload sends identical bytes.
type Compressor struct {
	stagingDir string
	level      zstd.EncoderLevel
	logger     log.Logger
}

// NewCompressor ...
func NewCompressor(stagingDir string, level int, logger log.Logger) Compressor {
	return Compressor{
		stagingDir: stagingDir,
		level:      zstd.EncoderLevelFromZstd(level),
		logger:     logger,
	}
}

// Compress returns the path of the compressed copy of pth, creating it when needed.
func (c Compressor) Compress(pth string) (string, error) {
	checksum, err := checksumOfFile(pth)
	if err != nil {
		return "", fmt.Errorf("checksum source: %w", err)
	}

	archivePath := filepath.Join(c.stagingDir, "compressed", checksum, filepath.Base(pth)+".zst")
	if exists, err := pathutil.IsPathExists(archivePath); err != nil {
		return "", err
	} else if exists {
		c.logger.Debugf("Reusing compressed copy %s", archivePath)
		return archivePath, nil
	}

	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	if err := c.compressWithGoLib(pth, archivePath); err != nil {
		return "", fmt.Errorf("compress %s: %w", pth, err)
	}
	return archivePath, nil
}

// Release removes the compressed copy.
func (c Compressor) Release(archivePath string) error {
	return os.RemoveAll(filepath.Dir(archivePath))
}

func (c Compressor) compressWithGoLib(pth, archivePath string) error {
	in, err := os.Open(pth)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer in.Close() //nolint:errcheck

	tmp, err := os.CreateTemp(filepath.Dir(archivePath), ".compress-*")
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	zstdWriter, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(c.level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		_ = tmp.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := io.Copy(zstdWriter, in); err != nil {
		_ = zstdWriter.Close()
		_ = tmp.Close()
		return fmt.Errorf("copy to archive: %w", err)
	}
	// produce zstd
	if err := zstdWriter.Close(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("close zstd writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync archive file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive file: %w", err)
	}

	if err := os.Rename(tmp.Name(), archivePath); err != nil {
		return fmt.Errorf("stage archive file: %w", err)
	}

	if info, err := os.Stat(archivePath); err == nil {
		c.logger.Debugf("Compressed %s into %s (%d bytes)", pth, archivePath, info.Size())
	}
	return nil
}

func checksumOfFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
