// Package source turns the source argument of an upload into a stable local file.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	fileSchema  = "file://"
	httpSchema  = "http://"
	httpsSchema = "https://"
)

// FileDownloader ..
type FileDownloader interface {
	Get(ctx context.Context, destination, source string) error
}

// Resolver supports retrieving the local path to a source either provided
// as a local path, a local path using `file://` scheme
// or a http(s) URL that is downloaded into the staging directory.
//
// Downloads are staged under a directory derived from the URL, so a resumed
// upload of the same URL reads the bytes of the first download.
type Resolver struct {
	stagingDir     string
	filedownloader FileDownloader
	logger         log.Logger
}

// NewResolver ...
func NewResolver(stagingDir string, filedownloader FileDownloader, logger log.Logger) Resolver {
	return Resolver{
		stagingDir:     stagingDir,
		filedownloader: filedownloader,
		logger:         logger,
	}
}

// IsRemote reports whether src is downloaded by LocalPath.
func IsRemote(src string) bool {
	return strings.HasPrefix(src, httpSchema) || strings.HasPrefix(src, httpsSchema)
}

// LocalPath ...
func (r Resolver) LocalPath(ctx context.Context, src string) (string, error) {
	if src == "" {
		return "", fmt.Errorf("source must not be empty")
	}

	if IsRemote(src) {
		return r.downloadFile(ctx, src)
	}
	return trimmedFilePath(src)
}

// Release removes the staged download of src. Local sources are left alone.
func (r Resolver) Release(src string) error {
	if !IsRemote(src) {
		return nil
	}
	return os.RemoveAll(r.downloadDir(src))
}

// Removes file:// from the begining of the path
func trimmedFilePath(src string) (string, error) {
	pth := strings.TrimPrefix(src, fileSchema)
	return pathutil.AbsPath(pth)
}

func (r Resolver) downloadFile(ctx context.Context, src string) (string, error) {
	fileName, err := fileNameFromPathURL(src)
	if err != nil {
		return "", err
	}

	dir := r.downloadDir(src)
	localPath := filepath.Join(dir, fileName)
	if exists, err := pathutil.IsPathExists(localPath); err != nil {
		return "", err
	} else if exists {
		r.logger.Debugf("Reusing staged download %s", localPath)
		return localPath, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	partialPath := localPath + ".download"
	r.logger.Infof("Downloading %s", src)
	if err := r.filedownloader.Get(ctx, partialPath, src); err != nil {
		if removeErr := os.Remove(partialPath); removeErr != nil && !os.IsNotExist(removeErr) {
			r.logger.Warnf("Failed to remove partial download: %s", removeErr)
		}
		return "", fmt.Errorf("download %s: %w", src, err)
	}
	if err := os.Rename(partialPath, localPath); err != nil {
		return "", fmt.Errorf("stage download: %w", err)
	}

	return localPath, nil
}

func (r Resolver) downloadDir(src string) string {
	sum := sha256.Sum256([]byte(src))
	return filepath.Join(r.stagingDir, "downloads", hex.EncodeToString(sum[:8]))
}

// Returns the file's name from a URL that starts with
// `http://` or `https://`
func fileNameFromPathURL(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", err
	}

	name := filepath.Base(u.Path)
	if name == "." || name == "/" {
		return "download", nil
	}
	return name, nil
}
