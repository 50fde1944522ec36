// Package storj implements upload.Backend on the multipart API of Storj DCS.
package storj

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/gabriel-vasile/mimetype"
	"storj.io/uplink"
)

type partUpload interface {
	io.Writer
	SetETag(etag []byte) error
	Commit() error
	Abort() error
}

type project interface {
	EnsureBucket(ctx context.Context, bucket string) (*uplink.Bucket, error)
	BeginUpload(ctx context.Context, bucket, key string, options *uplink.UploadOptions) (uplink.UploadInfo, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber uint32) (partUpload, error)
	CommitUpload(ctx context.Context, bucket, key, uploadID string, options *uplink.CommitUploadOptions) (*uplink.Object, error)
	AbortUpload(ctx context.Context, bucket, key, uploadID string) error
	Close() error
}

type uplinkProject struct {
	*uplink.Project
}

func (p uplinkProject) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber uint32) (partUpload, error) {
	part, err := p.Project.UploadPart(ctx, bucket, key, uploadID, partNumber)
	if err != nil {
		return nil, err
	}
	return part, nil
}

// Params ...
type Params struct {
	// AccessGrant is a serialized access grant.
	AccessGrant string
	// EnsureBucket creates the bucket on the first upload when it is missing.
	EnsureBucket bool
}

// Backend ...
type Backend struct {
	project      project
	ensureBucket bool
	logger       log.Logger
}

var _ upload.Backend = (*Backend)(nil)

// New opens a project with the access grant in params.
func New(ctx context.Context, params Params, logger log.Logger) (*Backend, error) {
	if params.AccessGrant == "" {
		return nil, fmt.Errorf("access grant must not be empty")
	}

	access, err := uplink.ParseAccess(params.AccessGrant)
	if err != nil {
		return nil, fmt.Errorf("parse access grant: %w", err)
	}
	p, err := uplink.OpenProject(ctx, access)
	if err != nil {
		return nil, fmt.Errorf("open project: %w", err)
	}

	return newBackend(uplinkProject{p}, params.EnsureBucket, logger), nil
}

func newBackend(p project, ensureBucket bool, logger log.Logger) *Backend {
	return &Backend{
		project:      p,
		ensureBucket: ensureBucket,
		logger:       logger,
	}
}

// InitiateTransaction begins a multipart upload. Storj has no per-object access policies,
// access is governed by the grant, so policy is only logged.
func (b *Backend) InitiateTransaction(ctx context.Context, target upload.Target, policy upload.AccessPolicy) (string, error) {
	if b.ensureBucket {
		if _, err := b.project.EnsureBucket(ctx, target.Bucket); err != nil {
			return "", fmt.Errorf("ensure bucket %s: %w", target.Bucket, err)
		}
	}
	if policy != upload.AccessPolicyPrivate {
		b.logger.Debugf("Access policy %s is not applied on Storj, object access follows the access grant", policy)
	}

	info, err := b.project.BeginUpload(ctx, target.Bucket, target.Key, nil)
	if err != nil {
		return "", fmt.Errorf("begin upload: %w", err)
	}
	b.logger.Debugf("Upload ID: %s", info.UploadID)
	return info.UploadID, nil
}

// UploadPart streams the part and tags it with the hex MD5 of its content.
func (b *Backend) UploadPart(ctx context.Context, transactionID string, target upload.Target, part upload.PartSpec, body io.ReadSeeker, progress upload.ProgressFunc) (upload.Receipt, error) {
	if part.Number <= 0 {
		return upload.Receipt{}, fmt.Errorf("invalid part number %d", part.Number)
	}

	pu, err := b.project.UploadPart(ctx, target.Bucket, target.Key, transactionID, uint32(part.Number))
	if err != nil {
		return upload.Receipt{}, fmt.Errorf("start part %d: %w", part.Number, err)
	}

	hash := md5.New()
	n, err := io.Copy(io.MultiWriter(pu, hash), upload.NewProgressReader(body, progress))
	if err == nil && n != part.Length {
		err = fmt.Errorf("read %d bytes, expected %d", n, part.Length)
	}
	if err != nil {
		if abortErr := pu.Abort(); abortErr != nil {
			b.logger.Warnf("Failed to abort part %d: %s", part.Number, abortErr)
		}
		return upload.Receipt{}, fmt.Errorf("upload part %d: %w", part.Number, err)
	}

	tag := hex.EncodeToString(hash.Sum(nil))
	if err := pu.SetETag([]byte(tag)); err != nil {
		return upload.Receipt{}, fmt.Errorf("set ETag of part %d: %w", part.Number, err)
	}
	if err := pu.Commit(); err != nil {
		return upload.Receipt{}, fmt.Errorf("commit part %d: %w", part.Number, err)
	}

	return upload.Receipt{PartNumber: part.Number, Tag: tag}, nil
}

// CompleteTransaction commits the upload. Storj tracks the parts itself, receipts only set the
// content type metadata and are checked for gaps.
func (b *Backend) CompleteTransaction(ctx context.Context, transactionID string, target upload.Target, receipts []upload.Receipt) (string, error) {
	for i, receipt := range receipts {
		if receipt.PartNumber != i+1 {
			return "", fmt.Errorf("receipt %d has part number %d", i+1, receipt.PartNumber)
		}
	}

	var opts *uplink.CommitUploadOptions
	if target.SourcePath != "" {
		if mtype, err := mimetype.DetectFile(target.SourcePath); err == nil {
			opts = &uplink.CommitUploadOptions{
				CustomMetadata: uplink.CustomMetadata{"Content-Type": mtype.String()},
			}
		}
	}

	object, err := b.project.CommitUpload(ctx, target.Bucket, target.Key, transactionID, opts)
	if err != nil {
		return "", fmt.Errorf("commit upload: %w", err)
	}

	key := target.Key
	if object != nil && object.Key != "" {
		key = object.Key
	}
	return fmt.Sprintf("sj://%s/%s", target.Bucket, key), nil
}

// AbortTransaction ...
func (b *Backend) AbortTransaction(ctx context.Context, transactionID string, target upload.Target) error {
	if err := b.project.AbortUpload(ctx, target.Bucket, target.Key, transactionID); err != nil {
		return fmt.Errorf("abort upload: %w", err)
	}
	return nil
}

// Shutdown closes the project.
func (b *Backend) Shutdown() error {
	return b.project.Close()
}
