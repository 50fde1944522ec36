package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bitrise-io/go-resumable-upload/internal/filecheck"
	"github.com/bitrise-io/go-utils/pathutil"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockFileDownloader ...
type MockFileDownloader struct {
	mock.Mock
}

// Get ...
func (m *MockFileDownloader) Get(ctx context.Context, destination, source string) error {
	args := m.Called(destination, source)
	return args.Error(0)
}

// GivenGetFails ...
func (m *MockFileDownloader) GivenGetFails(reason error) *MockFileDownloader {
	m.On("Get", mock.Anything, mock.Anything).Return(reason)
	return m
}

// GivenGetWrites makes Get write content to the destination.
func (m *MockFileDownloader) GivenGetWrites(content string) *MockFileDownloader {
	m.On("Get", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		if err := os.WriteFile(args.String(0), []byte(content), 0644); err != nil {
			panic(err)
		}
	})
	return m
}

func Test_WhenTrimmedFilePathCalled_ThenExpectCorrectValue(t *testing.T) {
	absPath, err := pathutil.AbsPath("file.txt")
	require.NoError(t, err)

	scenarios := []struct {
		filePath string
		expected string
	}{
		{
			filePath: "file://file.txt",
			expected: absPath,
		},
		{
			filePath: "file:///file.txt",
			expected: "/file.txt",
		},
		{
			filePath: "file.txt",
			expected: absPath,
		},
	}

	for _, scenario := range scenarios {
		// Given
		resolver := NewResolver(t.TempDir(), new(MockFileDownloader), log.NewLogger())

		// When
		actualFilePath, err := resolver.LocalPath(context.Background(), scenario.filePath)

		// Then
		assert.NoError(t, err)
		assert.Equal(t, scenario.expected, actualFilePath)
	}
}

func Test_WhenFileNameFromPathURLCalled_ThenExpectCorrectValue(t *testing.T) {
	scenarios := []struct {
		input    string
		expected string
	}{
		{
			"https://something.com/best-file-ever.bitrise",
			"best-file-ever.bitrise",
		},
		{
			"https://something.com/otherfile.txt?queryparams",
			"otherfile.txt",
		},
		{
			"https://github.com/bitrise-steplib/awesome-step/archive/0.1.1.zip",
			"0.1.1.zip",
		},
		{
			"https://something.com/",
			"download",
		},
	}

	for _, scenario := range scenarios {
		// When
		actualName, err := fileNameFromPathURL(scenario.input)

		// Then
		assert.NoError(t, err)
		assert.Equal(t, scenario.expected, actualName)
	}
}

func Test_GivenRemoteSource_WhenLocalPathCalledTwice_ThenDownloadsOnce(t *testing.T) {
	// Given
	downloader := new(MockFileDownloader).GivenGetWrites("remote content")
	stagingDir := t.TempDir()
	resolver := NewResolver(stagingDir, downloader, log.NewLogger())
	src := "https://example.com/files/video.mp4"

	// When
	first, err := resolver.LocalPath(context.Background(), src)
	require.NoError(t, err)
	second, err := resolver.LocalPath(context.Background(), src)
	require.NoError(t, err)

	// Then
	assert.Equal(t, first, second)
	assert.Equal(t, "video.mp4", filepath.Base(first))
	assert.True(t, strings.HasPrefix(first, stagingDir))
	require.NoError(t, filecheck.New(first).IsFile().Content([]byte("remote content")).Check())
	downloader.AssertNumberOfCalls(t, "Get", 1)

	require.NoError(t, resolver.Release(src))
	require.NoError(t, filecheck.New(first).Absent().Check())
}

func Test_GivenDownloadFails_WhenLocalPathCalled_ThenNothingIsStaged(t *testing.T) {
	// Given
	downloader := new(MockFileDownloader).GivenGetFails(errors.New("404"))
	resolver := NewResolver(t.TempDir(), downloader, log.NewLogger())
	src := "https://example.com/missing.bin"

	// When
	_, err := resolver.LocalPath(context.Background(), src)

	// Then
	require.Error(t, err)
	exists, err := pathutil.IsPathExists(filepath.Join(resolver.downloadDir(src), "missing.bin"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHTTPDownloader(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789"), 10000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.bin", time.Unix(0, 0), bytes.NewReader(content))
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "data.bin")
	err := NewHTTPDownloader(log.NewLogger()).Get(context.Background(), dest, server.URL+"/data.bin")
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCompressor(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "log.txt")
	content := bytes.Repeat([]byte("line of a very repetitive log file\n"), 5000)
	require.NoError(t, os.WriteFile(src, content, 0644))

	compressor := NewCompressor(filepath.Join(dir, "staging"), 3, log.NewLogger())

	archivePath, err := compressor.Compress(src)
	require.NoError(t, err)
	assert.Equal(t, "log.txt.zst", filepath.Base(archivePath))

	info, err := os.Stat(archivePath)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(content)))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()
	zr, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer zr.Close()
	decompressed, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, content, decompressed)

	again, err := compressor.Compress(src)
	require.NoError(t, err)
	assert.Equal(t, archivePath, again)
	infoAgain, err := os.Stat(again)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), infoAgain.ModTime(), "staged copy is reused")

	require.NoError(t, os.WriteFile(src, append(content, 'x'), 0644))
	changed, err := compressor.Compress(src)
	require.NoError(t, err)
	assert.NotEqual(t, archivePath, changed, "changed content gets a new copy")

	require.NoError(t, compressor.Release(archivePath))
	require.NoError(t, filecheck.New(archivePath).Absent().Check())
	require.NoError(t, filecheck.New(changed).IsFile().Check())
}
