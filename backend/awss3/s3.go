// Package awss3 implements upload.Backend on top of S3 multipart uploads.
package awss3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/gabriel-vasile/mimetype"
)

const (
	numRetries       = 3
	defaultRetryWait = 5 * time.Second
	fallbackRegion   = "us-east-1"
	defaultMediaType = "application/octet-stream"
)

// API is the subset of the S3 client the backend calls.
type API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ API = (*s3.Client)(nil)

// Params ...
type Params struct {
	Bucket string
	// Region is looked up from the bucket when empty.
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the S3 endpoint, for S3 compatible stores.
	Endpoint     string
	UsePathStyle bool
}

// Backend ...
type Backend struct {
	client     API
	logger     log.Logger
	numRetries uint
	retryWait  time.Duration
}

var _ upload.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithRetries sets how many times control requests and part uploads are attempted.
func WithRetries(times uint, wait time.Duration) Option {
	return func(b *Backend) {
		b.numRetries = times
		b.retryWait = wait
	}
}

// New creates an S3 client from params and wraps it in a Backend.
func New(ctx context.Context, params Params, logger log.Logger, opts ...Option) (*Backend, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	region := params.Region
	if region == "" {
		resolved, err := resolveBucketRegion(ctx, params, logger)
		if err != nil {
			return nil, err
		}
		region = resolved
	}

	cfg, err := loadAWSCredentials(ctx, region, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return nil, fmt.Errorf("load aws credentials: %w", err)
	}

	return NewWithClient(s3.NewFromConfig(*cfg, clientOptions(params)), logger, opts...), nil
}

// NewWithClient wraps an already configured client.
func NewWithClient(client API, logger log.Logger, opts ...Option) *Backend {
	b := &Backend{
		client:     client,
		logger:     logger,
		numRetries: numRetries,
		retryWait:  defaultRetryWait,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// InitiateTransaction ...
func (b *Backend) InitiateTransaction(ctx context.Context, target upload.Target, policy upload.AccessPolicy) (string, error) {
	contentType := detectContentType(target.SourcePath, b.logger)

	var uploadID string
	err := b.retry(ctx, func(attempt uint) error {
		out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(target.Bucket),
			Key:         aws.String(target.Key),
			ACL:         types.ObjectCannedACL(policy),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			return fmt.Errorf("create multipart upload: %w", err)
		}
		uploadID = aws.ToString(out.UploadId)
		return nil
	})
	if err != nil {
		return "", err
	}
	if uploadID == "" {
		return "", fmt.Errorf("create multipart upload: empty upload ID")
	}

	b.logger.Debugf("Created multipart upload %s for s3://%s/%s (%s)", uploadID, target.Bucket, target.Key, contentType)
	return uploadID, nil
}

// UploadPart ...
func (b *Backend) UploadPart(ctx context.Context, transactionID string, target upload.Target, part upload.PartSpec, body io.ReadSeeker, progress upload.ProgressFunc) (upload.Receipt, error) {
	reader := upload.NewProgressReader(body, progress)

	var etag string
	err := b.retry(ctx, func(attempt uint) error {
		if attempt > 0 {
			b.logger.Debugf("Retrying part %d (attempt %d)", part.Number, attempt+1)
		}
		if _, err := reader.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind part %d: %w", part.Number, err)
		}

		out, err := b.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(target.Bucket),
			Key:           aws.String(target.Key),
			UploadId:      aws.String(transactionID),
			PartNumber:    aws.Int32(int32(part.Number)),
			ContentLength: aws.Int64(part.Length),
			Body:          reader,
		})
		if err != nil {
			return fmt.Errorf("upload part %d: %w", part.Number, err)
		}
		etag = aws.ToString(out.ETag)
		return nil
	})
	if err != nil {
		return upload.Receipt{}, err
	}
	if etag == "" {
		return upload.Receipt{}, fmt.Errorf("upload part %d: empty ETag", part.Number)
	}

	return upload.Receipt{PartNumber: part.Number, Tag: etag}, nil
}

// CompleteTransaction ...
func (b *Backend) CompleteTransaction(ctx context.Context, transactionID string, target upload.Target, receipts []upload.Receipt) (string, error) {
	parts := make([]types.CompletedPart, 0, len(receipts))
	for _, receipt := range receipts {
		parts = append(parts, types.CompletedPart{
			ETag:       aws.String(receipt.Tag),
			PartNumber: aws.Int32(int32(receipt.PartNumber)),
		})
	}

	var location string
	err := b.retry(ctx, func(attempt uint) error {
		out, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(target.Bucket),
			Key:             aws.String(target.Key),
			UploadId:        aws.String(transactionID),
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err != nil {
			return fmt.Errorf("complete multipart upload: %w", err)
		}
		location = aws.ToString(out.Location)
		return nil
	})
	if err != nil {
		return "", err
	}

	if location == "" {
		location = fmt.Sprintf("s3://%s/%s", target.Bucket, target.Key)
	}
	return location, nil
}

// AbortTransaction ...
func (b *Backend) AbortTransaction(ctx context.Context, transactionID string, target upload.Target) error {
	return b.retry(ctx, func(attempt uint) error {
		_, err := b.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(target.Bucket),
			Key:      aws.String(target.Key),
			UploadId: aws.String(transactionID),
		})
		if err != nil {
			var noSuchUpload *types.NoSuchUpload
			if errors.As(err, &noSuchUpload) {
				b.logger.Debugf("Multipart upload %s is already gone", transactionID)
				return nil
			}
			return fmt.Errorf("abort multipart upload: %w", err)
		}
		return nil
	})
}

// Shutdown is a no-op, the S3 client holds no resources that need releasing.
func (b *Backend) Shutdown() error {
	return nil
}

// retry runs fn until it succeeds, the attempts run out, the context ends or
// S3 answers with an error that a repeated request cannot fix.
func (b *Backend) retry(ctx context.Context, fn func(attempt uint) error) error {
	return retry.Times(b.numRetries).Wait(b.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		err := fn(attempt)
		if err == nil {
			return nil, true
		}
		if ctx.Err() != nil || isPermanent(err) {
			return err, true
		}
		b.logger.Debugf("%s", describeError(err))
		return err, false
	})
}

func isPermanent(err error) bool {
	var noSuchUpload *types.NoSuchUpload
	if errors.As(err, &noSuchUpload) {
		return true
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		switch apiError.ErrorCode() {
		case "AccessDenied", "AccessControlListNotSupported", "NoSuchBucket", "InvalidPart", "InvalidPartOrder", "EntityTooSmall",
			"InvalidAccessKeyId", "SignatureDoesNotMatch":
			return true
		}
	}
	return false
}

func describeError(err error) string {
	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		return fmt.Sprintf("s3 responded with %s: %s", apiError.ErrorCode(), apiError.ErrorMessage())
	}
	return err.Error()
}

func detectContentType(pth string, logger log.Logger) string {
	if pth == "" {
		return defaultMediaType
	}
	mtype, err := mimetype.DetectFile(pth)
	if err != nil {
		logger.Debugf("Failed to detect content type of %s: %s", pth, err)
		return defaultMediaType
	}
	return mtype.String()
}

func clientOptions(params Params) func(*s3.Options) {
	return func(o *s3.Options) {
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
		}
		o.UsePathStyle = params.UsePathStyle
	}
}

func resolveBucketRegion(ctx context.Context, params Params, logger log.Logger) (string, error) {
	cfg, err := loadAWSCredentials(ctx, fallbackRegion, params.AccessKeyID, params.SecretAccessKey, logger)
	if err != nil {
		return "", fmt.Errorf("load aws credentials: %w", err)
	}

	region, err := manager.GetBucketRegion(ctx, s3.NewFromConfig(*cfg, clientOptions(params)), params.Bucket)
	if err != nil {
		var notFound manager.BucketNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("bucket %s not found", params.Bucket)
		}
		return "", fmt.Errorf("get bucket region: %w", err)
	}

	logger.Debugf("Bucket %s is in %s", params.Bucket, region)
	return region, nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}
