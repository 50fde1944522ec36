package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bitrise-io/go-resumable-upload/checkpoint"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mib = 1024 * 1024

type uploadService struct {
	server *httptest.Server

	mu           sync.Mutex
	initiated    int
	parts        map[string]int
	acknowledged []map[string]interface{}
}

func newUploadService(t *testing.T) *uploadService {
	s := &uploadService{parts: map[string]int{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/multipart-upload", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.initiated++
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"upload-1"}`))
	})
	mux.HandleFunc("/api/multipart-upload/upload-1/parts/", func(w http.ResponseWriter, r *http.Request) {
		n := strings.TrimPrefix(r.URL.Path, "/api/multipart-upload/upload-1/parts/")
		_, _ = fmt.Fprintf(w, `{"url":"%s/storage/%s","method":"PUT"}`, s.server.URL, n)
	})
	mux.HandleFunc("/storage/", func(w http.ResponseWriter, r *http.Request) {
		n := strings.TrimPrefix(r.URL.Path, "/storage/")
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		s.mu.Lock()
		s.parts[n] = len(data)
		s.mu.Unlock()

		w.Header().Set("ETag", fmt.Sprintf(`"etag-%s"`, n))
	})
	mux.HandleFunc("/api/multipart-upload/upload-1/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, sonic.ConfigStd.NewDecoder(r.Body).Decode(&body))

		s.mu.Lock()
		s.acknowledged = append(s.acknowledged, body)
		s.mu.Unlock()

		_, _ = w.Write([]byte(`{"location":"https://cdn.example.com/uploads/data.bin"}`))
	})

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

type testEnv struct {
	stateDir string
	source   string
	envRepo  env.Repository
}

func givenTestEnv(t *testing.T, service *uploadService, size int) testEnv {
	stateDir := t.TempDir()
	source := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(source, bytes.Repeat([]byte{7}, size), 0600))

	t.Setenv("RESUMABLE_UPLOAD_BACKEND", "http")
	t.Setenv("RESUMABLE_UPLOAD_STORE", "sqlite")
	t.Setenv("RESUMABLE_UPLOAD_STATE_DIR", stateDir)
	t.Setenv("RESUMABLE_UPLOAD_STAGING_DIR", filepath.Join(stateDir, "staging"))
	t.Setenv("RESUMABLE_UPLOAD_KEY_TEMPLATE", "uploads/{{ .FileName }}")
	t.Setenv("RESUMABLE_UPLOAD_API_BASE_URL", service.server.URL+"/api")
	t.Setenv("RESUMABLE_UPLOAD_API_TOKEN", "token")
	t.Setenv("RESUMABLE_UPLOAD_ANALYTICS", "false")
	t.Setenv("RESUMABLE_UPLOAD_PROGRESS", "json")

	return testEnv{stateDir: stateDir, source: source, envRepo: env.NewRepository()}
}

func (e testEnv) store(t *testing.T) *checkpoint.SQLiteStore {
	store, err := checkpoint.OpenSQLiteStore(filepath.Join(e.stateDir, "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRun_Upload(t *testing.T) {
	service := newUploadService(t)
	e := givenTestEnv(t, service, 6*mib)

	var stdout bytes.Buffer
	code := run(context.Background(), []string{"upload", e.source}, e.envRepo, &stdout, io.Discard)
	require.Equal(t, exitOK, code)

	assert.Equal(t, 1, service.initiated)
	assert.Equal(t, map[string]int{"1": 5 * mib, "2": mib}, service.parts)
	require.Len(t, service.acknowledged, 1)
	assert.Equal(t, true, service.acknowledged[0]["successful"])

	assert.Contains(t, stdout.String(), `"key":"uploads/data.bin"`)
	assert.Contains(t, stdout.String(), "File successfully uploaded to https://cdn.example.com/uploads/data.bin")

	_, found, err := e.store(t).Get("uploads/data.bin")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRun_UploadResumesFromCheckpoint(t *testing.T) {
	service := newUploadService(t)
	e := givenTestEnv(t, service, 6*mib)
	require.NoError(t, e.store(t).Put("uploads/data.bin", checkpoint.Checkpoint{
		TransactionID: "upload-1",
		Receipts:      []checkpoint.Receipt{{PartNumber: 1, Tag: `"etag-1"`}},
		PartSize:      5 * mib,
		FileSize:      6 * mib,
	}))

	code := run(context.Background(), []string{"upload", e.source}, e.envRepo, io.Discard, io.Discard)
	require.Equal(t, exitOK, code)

	assert.Equal(t, 0, service.initiated)
	assert.Equal(t, map[string]int{"2": mib}, service.parts)
	require.Len(t, service.acknowledged, 1)
	assert.Equal(t, []interface{}{`"etag-1"`, `"etag-2"`}, service.acknowledged[0]["etags"])
}

func TestRun_Abort(t *testing.T) {
	service := newUploadService(t)
	e := givenTestEnv(t, service, mib)
	require.NoError(t, e.store(t).Put("uploads/data.bin", checkpoint.Checkpoint{TransactionID: "upload-1"}))

	code := run(context.Background(), []string{"abort", e.source}, e.envRepo, io.Discard, io.Discard)
	require.Equal(t, exitOK, code)

	require.Len(t, service.acknowledged, 1)
	assert.Equal(t, false, service.acknowledged[0]["successful"])

	_, found, err := e.store(t).Get("uploads/data.bin")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRun_AbortWithoutCheckpoint(t *testing.T) {
	service := newUploadService(t)
	e := givenTestEnv(t, service, mib)

	code := run(context.Background(), []string{"abort", e.source}, e.envRepo, io.Discard, io.Discard)
	require.Equal(t, exitOK, code)
	assert.Empty(t, service.acknowledged)
}

func TestRun_Status(t *testing.T) {
	service := newUploadService(t)
	e := givenTestEnv(t, service, mib)

	code := run(context.Background(), []string{"status", e.source}, e.envRepo, io.Discard, io.Discard)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, 0, service.initiated)
}

func TestRun_InvalidInvocations(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no command", args: nil, want: exitFailed},
		{name: "unknown command", args: []string{"download", "file"}, want: exitFailed},
		{name: "missing source", args: []string{"upload"}, want: exitFailed},
		{name: "unknown flag", args: []string{"upload", "--colour", "file"}, want: exitFailed},
		{name: "help", args: []string{"status", "--help"}, want: exitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := run(context.Background(), tt.args, env.NewRepository(), io.Discard, io.Discard)
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: exitOK},
		{name: "interrupted", err: fmt.Errorf("upload: %w", &upload.InterruptedError{CompletedParts: 2}), want: exitInterrupted},
		{name: "aborted", err: &upload.AbortedError{}, want: exitFailed},
		{name: "backend failure", err: &upload.BackendError{Op: "upload part 3", Err: errors.New("timeout")}, want: exitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err, log.NewLogger()))
		})
	}
}

func TestSettle(t *testing.T) {
	keptCheckpoint := &upload.PersistenceError{Op: "delete", Key: "uploads/source.bin", Err: errors.New("read-only file system")}
	failure := &upload.BackendError{Op: "complete transaction", Err: errors.New("timeout")}

	tests := []struct {
		name     string
		location string
		err      error
		wantErr  error
	}{
		{name: "success", location: "https://bucket/key"},
		{name: "stored object with kept checkpoint", location: "https://bucket/key", err: keptCheckpoint},
		{name: "failure without location", err: failure, wantErr: failure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantErr, settle(tt.location, tt.err, log.NewLogger()))
		})
	}
}
