package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bitrise-io/go-resumable-upload/checkpoint"
	"github.com/stretchr/testify/require"
)

const mib = int64(1024 * 1024)

type fakeBackend struct {
	mu sync.Mutex

	nextID      int
	initiated   []string
	policies    []AccessPolicy
	uploaded    []int
	completed   map[string][]Receipt
	aborted     []string
	shutdown    bool
	initiateErr error
	completeErr error
	abortErr    error
	partErrs    map[int]error
	onPart      func(part PartSpec)
	onComplete  func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		completed: map[string][]Receipt{},
		partErrs:  map[int]error{},
	}
}

func (b *fakeBackend) InitiateTransaction(_ context.Context, _ Target, policy AccessPolicy) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initiateErr != nil {
		return "", b.initiateErr
	}
	b.nextID++
	id := fmt.Sprintf("upload-%d", b.nextID)
	b.initiated = append(b.initiated, id)
	b.policies = append(b.policies, policy)
	return id, nil
}

func (b *fakeBackend) UploadPart(_ context.Context, transactionID string, _ Target, part PartSpec, body io.ReadSeeker, progress ProgressFunc) (Receipt, error) {
	b.mu.Lock()
	b.uploaded = append(b.uploaded, part.Number)
	onPart := b.onPart
	partErr := b.partErrs[part.Number]
	b.mu.Unlock()

	if onPart != nil {
		onPart(part)
	}

	n, err := io.Copy(io.Discard, NewProgressReader(body, progress))
	if err != nil {
		return Receipt{}, err
	}
	if n != part.Length {
		return Receipt{}, fmt.Errorf("part %d: read %d bytes, expected %d", part.Number, n, part.Length)
	}
	if partErr != nil {
		return Receipt{}, partErr
	}
	return Receipt{PartNumber: part.Number, Tag: fmt.Sprintf(`"%s-etag-%d"`, transactionID, part.Number)}, nil
}

func (b *fakeBackend) CompleteTransaction(_ context.Context, transactionID string, target Target, receipts []Receipt) (string, error) {
	b.mu.Lock()
	onComplete := b.onComplete
	b.mu.Unlock()
	if onComplete != nil {
		onComplete()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.completeErr != nil {
		return "", b.completeErr
	}
	b.completed[transactionID] = receipts
	return fmt.Sprintf("https://%s.example.com/%s", target.Bucket, target.Key), nil
}

func (b *fakeBackend) AbortTransaction(_ context.Context, transactionID string, _ Target) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.aborted = append(b.aborted, transactionID)
	return b.abortErr
}

func (b *fakeBackend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.shutdown = true
	return nil
}

func (b *fakeBackend) uploadedParts() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.uploaded...)
}

// flakyStore fails every Put after the first failAfter successful ones.
type flakyStore struct {
	checkpoint.Store
	mu        sync.Mutex
	puts      int
	failAfter int
}

func (s *flakyStore) Put(key string, cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	s.puts++
	fail := s.puts > s.failAfter
	s.mu.Unlock()

	if fail {
		return errors.New("disk full")
	}
	return s.Store.Put(key, cp)
}

type progressEvent struct {
	percent int
	message string
}

type recordingObserver struct {
	mu     sync.Mutex
	events []progressEvent
}

func (o *recordingObserver) OnProgress(percent int, message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, progressEvent{percent: percent, message: message})
}

func (o *recordingObserver) percents() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var percents []int
	for _, e := range o.events {
		percents = append(percents, e.percent)
	}
	return percents
}

func givenSourceFile(t *testing.T, size int64) string {
	t.Helper()

	pth := filepath.Join(t.TempDir(), "source.bin")
	f, err := os.Create(pth)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return pth
}

func givenTarget(t *testing.T, size int64) Target {
	t.Helper()

	return Target{
		Bucket:     "bucket",
		Key:        "uploads/source.bin",
		SourcePath: givenSourceFile(t, size),
	}
}
