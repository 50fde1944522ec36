// Package checkpoint persists the progress of multipart uploads so that they can be resumed
// after the process restarts.
package checkpoint

import (
	"time"
)

// Receipt is the backend issued proof that one part was stored.
type Receipt struct {
	PartNumber int    `json:"partNumber"`
	Tag        string `json:"tag"`
}

// Checkpoint is the durable state of one unfinished upload.
// A checkpoint with a transaction ID and no receipts is a valid, resumable state.
type Checkpoint struct {
	TransactionID string
	Receipts      []Receipt
	PartSize      int64
	FileSize      int64
	UpdatedAt     time.Time
}

// Store is a durable checkpoint storage keyed by the upload's object key.
//
// Put overwrites atomically and returns once the checkpoint is durable; readers never observe
// a partially written checkpoint. Delete of an absent key is not an error.
type Store interface {
	Get(key string) (Checkpoint, bool, error)
	Put(key string, cp Checkpoint) error
	Delete(key string) error
}
