// Package upload drives resumable multipart uploads of a single local file.
//
// A Controller splits the source into fixed size parts, pushes them one by one
// through a Backend and records a receipt for every finished part in a
// checkpoint.Store, so that a later Start can continue from the last durable
// part instead of starting over.
package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/bitrise-io/go-resumable-upload/checkpoint"
)

// MinPartSize is the smallest part size multipart backends accept (except for the last part).
const MinPartSize int64 = 5 * 1024 * 1024

// IndeterminatePercent is reported while no meaningful fraction can be computed,
// for example while a transaction is initiated or finalized.
const IndeterminatePercent = -1

// Target identifies one logical upload.
// Key is also the checkpoint lookup key, so it must be stable across retries of the same file.
type Target struct {
	Bucket     string
	Key        string
	SourcePath string
}

// Receipt is the backend issued proof that a part was stored.
type Receipt = checkpoint.Receipt

// PartSpec is one contiguous byte range of the source file.
type PartSpec struct {
	Number int
	Offset int64
	Length int64
}

// End returns the exclusive end offset of the part.
func (p PartSpec) End() int64 {
	return p.Offset + p.Length
}

// AccessPolicy is the visibility requested for the uploaded object.
type AccessPolicy string

// Access policies, named after the S3 canned ACLs.
const (
	AccessPolicyPrivate                AccessPolicy = "private"
	AccessPolicyPublicRead             AccessPolicy = "public-read"
	AccessPolicyPublicReadWrite        AccessPolicy = "public-read-write"
	AccessPolicyAuthenticatedRead      AccessPolicy = "authenticated-read"
	AccessPolicyBucketOwnerRead        AccessPolicy = "bucket-owner-read"
	AccessPolicyBucketOwnerFullControl AccessPolicy = "bucket-owner-full-control"
)

// DefaultAccessPolicy makes uploaded objects publicly readable.
const DefaultAccessPolicy = AccessPolicyPublicRead

var accessPolicies = []AccessPolicy{
	AccessPolicyPrivate,
	AccessPolicyPublicRead,
	AccessPolicyPublicReadWrite,
	AccessPolicyAuthenticatedRead,
	AccessPolicyBucketOwnerRead,
	AccessPolicyBucketOwnerFullControl,
}

// ParseAccessPolicy ...
func ParseAccessPolicy(s string) (AccessPolicy, error) {
	if s == "" {
		return DefaultAccessPolicy, nil
	}
	for _, p := range accessPolicies {
		if string(p) == s {
			return p, nil
		}
	}
	return "", &ConfigurationError{Err: fmt.Errorf("unknown access policy: %s", s)}
}

// ProgressFunc receives the number of bytes sent since the previous call.
type ProgressFunc func(delta int64)

// Backend is the storage service side of a multipart upload.
// Implementations own the wire protocol, authentication and transport level timeouts and retries.
type Backend interface {
	// InitiateTransaction opens a new multipart upload and returns its identifier.
	InitiateTransaction(ctx context.Context, target Target, policy AccessPolicy) (string, error)
	// UploadPart sends one part. Body yields exactly part.Length bytes and may be rewound
	// by the implementation; progress should be called with byte deltas while sending.
	UploadPart(ctx context.Context, transactionID string, target Target, part PartSpec, body io.ReadSeeker, progress ProgressFunc) (Receipt, error)
	// CompleteTransaction assembles the object from the ordered receipts and returns its location.
	CompleteTransaction(ctx context.Context, transactionID string, target Target, receipts []Receipt) (string, error)
	// AbortTransaction discards the transaction and every part stored for it.
	AbortTransaction(ctx context.Context, transactionID string, target Target) error
	// Shutdown releases the resources held by the backend.
	Shutdown() error
}

// Observer is notified about upload progress.
type Observer interface {
	OnProgress(percent int, message string)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(percent int, message string)

// OnProgress ...
func (f ObserverFunc) OnProgress(percent int, message string) {
	f(percent, message)
}

type nopObserver struct{}

func (nopObserver) OnProgress(int, string) {}
