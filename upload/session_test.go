package upload

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitrise-io/go-resumable-upload/checkpoint"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	updatedAt := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, store.Put("key", checkpoint.Checkpoint{
		TransactionID: "upload-1",
		Receipts:      []Receipt{{PartNumber: 1, Tag: "a"}, {PartNumber: 2, Tag: "b"}, {PartNumber: 3, Tag: "c"}},
		PartSize:      5 * mib,
		FileSize:      12 * mib,
		UpdatedAt:     updatedAt,
	}))

	status, found, err := Inspect(store, "key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "upload-1", status.TransactionID)
	assert.Equal(t, 3, status.CompletedParts)
	assert.Equal(t, 12*mib, status.BytesCompleted)
	assert.True(t, updatedAt.Equal(status.UpdatedAt))

	_, found, err = Inspect(store, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDiscard(t *testing.T) {
	target := Target{Bucket: "bucket", Key: "key"}

	t.Run("aborts and removes a stored upload", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		require.NoError(t, store.Put(target.Key, checkpoint.Checkpoint{TransactionID: "upload-3", Receipts: []Receipt{}}))
		backend := newFakeBackend()

		discarded, err := Discard(context.Background(), target, backend, store, log.NewLogger())
		require.NoError(t, err)
		assert.True(t, discarded)
		assert.Equal(t, []string{"upload-3"}, backend.aborted)

		_, found, err := store.Get(target.Key)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("nothing to discard", func(t *testing.T) {
		backend := newFakeBackend()

		discarded, err := Discard(context.Background(), target, backend, checkpoint.NewMemoryStore(), log.NewLogger())
		require.NoError(t, err)
		assert.False(t, discarded)
		assert.Empty(t, backend.aborted)
	})

	t.Run("backend failure still removes the checkpoint", func(t *testing.T) {
		store := checkpoint.NewMemoryStore()
		require.NoError(t, store.Put(target.Key, checkpoint.Checkpoint{TransactionID: "upload-4"}))
		backend := newFakeBackend()
		backend.abortErr = errors.New("no such upload")

		discarded, err := Discard(context.Background(), target, backend, store, log.NewLogger())
		assert.True(t, discarded)
		var backendErr *BackendError
		require.ErrorAs(t, err, &backendErr)

		_, found, err := store.Get(target.Key)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestParseAccessPolicy(t *testing.T) {
	p, err := ParseAccessPolicy("")
	require.NoError(t, err)
	assert.Equal(t, AccessPolicyPublicRead, p)

	p, err = ParseAccessPolicy("bucket-owner-full-control")
	require.NoError(t, err)
	assert.Equal(t, AccessPolicyBucketOwnerFullControl, p)

	_, err = ParseAccessPolicy("world-writable")
	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
}
