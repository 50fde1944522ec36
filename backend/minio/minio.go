// Package minio implements upload.Backend with the low level multipart API of minio-go,
// for MinIO and other S3 compatible services.
package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/gabriel-vasile/mimetype"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const noSuchUploadCode = "NoSuchUpload"

// API is the subset of *miniogo.Core the backend uses.
type API interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts miniogo.PutObjectOptions) (string, error)
	PutObjectPart(ctx context.Context, bucket, object, uploadID string, partID int, data io.Reader, size int64, opts miniogo.PutObjectPartOptions) (miniogo.ObjectPart, error)
	CompleteMultipartUpload(ctx context.Context, bucket, object, uploadID string, parts []miniogo.CompletePart, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

var _ API = (*miniogo.Core)(nil)

// Params ...
type Params struct {
	// Endpoint is the service URL, for example https://play.min.io. Plain http disables TLS.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Backend ...
type Backend struct {
	client   API
	endpoint string
	logger   log.Logger
}

var _ upload.Backend = (*Backend)(nil)

// New ...
func New(params Params, logger log.Logger) (*Backend, error) {
	endpoint, err := url.Parse(params.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %s: %w", params.Endpoint, err)
	}
	if endpoint.Host == "" {
		return nil, fmt.Errorf("endpoint must be an absolute URL, got: %s", params.Endpoint)
	}

	lookup := miniogo.BucketLookupAuto
	if params.UsePathStyle {
		lookup = miniogo.BucketLookupPath
	}

	core, err := miniogo.NewCore(endpoint.Host, &miniogo.Options{
		Creds:        credentials.NewStaticV4(params.AccessKeyID, params.SecretAccessKey, ""),
		Secure:       endpoint.Scheme != "http",
		Region:       params.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return NewWithClient(core, strings.TrimSuffix(params.Endpoint, "/"), logger), nil
}

// NewWithClient ...
func NewWithClient(client API, endpoint string, logger log.Logger) *Backend {
	return &Backend{client: client, endpoint: endpoint, logger: logger}
}

// InitiateTransaction starts a multipart upload, the access policy is sent as a canned ACL header.
func (b *Backend) InitiateTransaction(ctx context.Context, target upload.Target, policy upload.AccessPolicy) (string, error) {
	opts := miniogo.PutObjectOptions{
		ContentType:  contentType(target.SourcePath),
		UserMetadata: map[string]string{"x-amz-acl": string(policy)},
	}

	uploadID, err := b.client.NewMultipartUpload(ctx, target.Bucket, target.Key, opts)
	if err != nil {
		return "", fmt.Errorf("create multipart upload: %w", err)
	}
	b.logger.Debugf("Upload ID: %s", uploadID)
	return uploadID, nil
}

// UploadPart ...
func (b *Backend) UploadPart(ctx context.Context, transactionID string, target upload.Target, part upload.PartSpec, body io.ReadSeeker, progress upload.ProgressFunc) (upload.Receipt, error) {
	objectPart, err := b.client.PutObjectPart(ctx, target.Bucket, target.Key, transactionID, part.Number,
		upload.NewProgressReader(body, progress), part.Length, miniogo.PutObjectPartOptions{})
	if err != nil {
		return upload.Receipt{}, fmt.Errorf("upload part %d: %w", part.Number, err)
	}
	if objectPart.ETag == "" {
		return upload.Receipt{}, fmt.Errorf("upload part %d: empty ETag in response", part.Number)
	}
	return upload.Receipt{PartNumber: part.Number, Tag: objectPart.ETag}, nil
}

// CompleteTransaction ...
func (b *Backend) CompleteTransaction(ctx context.Context, transactionID string, target upload.Target, receipts []upload.Receipt) (string, error) {
	parts := make([]miniogo.CompletePart, 0, len(receipts))
	for _, receipt := range receipts {
		parts = append(parts, miniogo.CompletePart{PartNumber: receipt.PartNumber, ETag: receipt.Tag})
	}

	info, err := b.client.CompleteMultipartUpload(ctx, target.Bucket, target.Key, transactionID, parts, miniogo.PutObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}
	if info.Location != "" {
		return info.Location, nil
	}
	return fmt.Sprintf("%s/%s/%s", b.endpoint, target.Bucket, target.Key), nil
}

// AbortTransaction ...
func (b *Backend) AbortTransaction(ctx context.Context, transactionID string, target upload.Target) error {
	err := b.client.AbortMultipartUpload(ctx, target.Bucket, target.Key, transactionID)
	if err == nil {
		return nil
	}
	if miniogo.ToErrorResponse(err).Code == noSuchUploadCode {
		b.logger.Debugf("Upload %s is already gone", transactionID)
		return nil
	}
	return fmt.Errorf("abort multipart upload: %w", err)
}

// Shutdown ...
func (b *Backend) Shutdown() error {
	return nil
}

func contentType(pth string) string {
	if pth != "" {
		if mtype, err := mimetype.DetectFile(pth); err == nil {
			return mtype.String()
		}
	}
	return "application/octet-stream"
}
