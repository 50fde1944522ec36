package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Version is the serialization version written by Marshal.
const Version = 1

var (
	// ErrCorrupt is returned for documents that can not describe a valid checkpoint.
	ErrCorrupt = errors.New("corrupt checkpoint")
	// ErrUnsupportedVersion is returned for documents written by a newer serialization version.
	ErrUnsupportedVersion = errors.New("unsupported checkpoint version")
)

type document struct {
	Version       int       `json:"version"`
	TransactionID string    `json:"transactionId"`
	Receipts      []Receipt `json:"receipts"`
	PartSize      int64     `json:"partSize,omitempty"`
	FileSize      int64     `json:"fileSize,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Marshal encodes a checkpoint into its versioned JSON document.
func Marshal(cp Checkpoint) ([]byte, error) {
	if cp.TransactionID == "" {
		return nil, fmt.Errorf("%w: empty transaction ID", ErrCorrupt)
	}

	receipts := cp.Receipts
	if receipts == nil {
		receipts = []Receipt{}
	}

	data, err := sonic.ConfigStd.Marshal(document{
		Version:       Version,
		TransactionID: cp.TransactionID,
		Receipts:      receipts,
		PartSize:      cp.PartSize,
		FileSize:      cp.FileSize,
		UpdatedAt:     cp.UpdatedAt.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a document written by Marshal.
// Receipts must be numbered 1..n in order.
func Unmarshal(data []byte) (Checkpoint, error) {
	var doc document
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrCorrupt, err)
	}

	if doc.Version < 1 {
		return Checkpoint{}, fmt.Errorf("%w: missing version", ErrCorrupt)
	}
	if doc.Version > Version {
		return Checkpoint{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.Version)
	}
	if doc.TransactionID == "" {
		return Checkpoint{}, fmt.Errorf("%w: empty transaction ID", ErrCorrupt)
	}

	receipts := doc.Receipts
	if receipts == nil {
		receipts = []Receipt{}
	}
	for i, r := range receipts {
		if r.PartNumber != i+1 {
			return Checkpoint{}, fmt.Errorf("%w: receipt %d has part number %d", ErrCorrupt, i+1, r.PartNumber)
		}
	}

	return Checkpoint{
		TransactionID: doc.TransactionID,
		Receipts:      receipts,
		PartSize:      doc.PartSize,
		FileSize:      doc.FileSize,
		UpdatedAt:     doc.UpdatedAt,
	}, nil
}
