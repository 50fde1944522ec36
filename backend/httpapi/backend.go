// Package httpapi implements upload.Backend against a multipart upload service
// that hands out a presigned URL for every part.
//
// The service protocol:
//
//	POST  {base}/multipart-upload                       -> 201 {"id"}
//	POST  {base}/multipart-upload/{id}/parts/{n}        -> 200 {"url","method","headers"}
//	PUT   <presigned url>                               -> 200, ETag header
//	PATCH {base}/multipart-upload/{id}/acknowledge      -> 200 {"location","message","severity"}
//
// Acknowledging with successful=false cancels the upload.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-resumable-upload/upload"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
)

// Params ...
type Params struct {
	APIBaseURL string
	Token      string
}

// Backend ...
type Backend struct {
	client apiClient
	logger log.Logger
}

var _ upload.Backend = (*Backend)(nil)

// New creates a Backend using the retrying HTTP client shared by bitrise tools.
func New(params Params, logger log.Logger) (*Backend, error) {
	return NewWithClient(retryhttp.NewClient(logger), params, logger)
}

// NewWithClient creates a Backend with a caller supplied client.
func NewWithClient(httpClient *retryablehttp.Client, params Params, logger log.Logger) (*Backend, error) {
	if params.APIBaseURL == "" {
		return nil, fmt.Errorf("API base URL must not be empty")
	}
	return &Backend{
		client: newAPIClient(httpClient, params.APIBaseURL, params.Token, logger),
		logger: logger,
	}, nil
}

// InitiateTransaction ...
func (b *Backend) InitiateTransaction(ctx context.Context, target upload.Target, policy upload.AccessPolicy) (string, error) {
	request := initiateRequest{
		Bucket:      target.Bucket,
		Key:         target.Key,
		FileName:    filepath.Base(target.SourcePath),
		ContentType: "application/octet-stream",
		ACL:         string(policy),
	}
	if target.SourcePath != "" {
		if info, err := os.Stat(target.SourcePath); err == nil {
			request.SizeInBytes = info.Size()
		}
		if mtype, err := mimetype.DetectFile(target.SourcePath); err == nil {
			request.ContentType = mtype.String()
		}
	}

	b.logger.Debugf("Initiate upload")
	resp, err := b.client.initiate(ctx, request)
	if err != nil {
		return "", fmt.Errorf("failed to initiate upload: %w", err)
	}
	b.logger.Debugf("Upload ID: %s", resp.ID)
	return resp.ID, nil
}

// UploadPart ...
func (b *Backend) UploadPart(ctx context.Context, transactionID string, _ upload.Target, part upload.PartSpec, body io.ReadSeeker, progress upload.ProgressFunc) (upload.Receipt, error) {
	partURL, err := b.client.partURL(ctx, transactionID, part.Number, part.Length)
	if err != nil {
		return upload.Receipt{}, fmt.Errorf("failed to get URL for part %d: %w", part.Number, err)
	}

	b.logger.Debugf("Uploading part %d to %s", part.Number, partURL.URL)
	etag, err := b.client.uploadPart(ctx, partURL, upload.NewProgressReader(body, progress), part.Length)
	if err != nil {
		return upload.Receipt{}, fmt.Errorf("upload part %d: %w", part.Number, err)
	}
	return upload.Receipt{PartNumber: part.Number, Tag: etag}, nil
}

// CompleteTransaction ...
func (b *Backend) CompleteTransaction(ctx context.Context, transactionID string, target upload.Target, receipts []upload.Receipt) (string, error) {
	etags := make([]string, 0, len(receipts))
	for i, receipt := range receipts {
		if receipt.PartNumber != i+1 {
			return "", fmt.Errorf("receipt %d has part number %d", i+1, receipt.PartNumber)
		}
		etags = append(etags, receipt.Tag)
	}

	b.logger.Debugf("Acknowledge upload")
	response, err := b.client.acknowledge(ctx, true, transactionID, etags)
	if err != nil {
		return "", fmt.Errorf("failed to finalize upload: %w", err)
	}
	b.logger.Debugf("Upload acknowledged")
	logResponseMessage(response, b.logger)

	if response.Location == "" {
		return fmt.Sprintf("%s/%s", target.Bucket, target.Key), nil
	}
	return response.Location, nil
}

// AbortTransaction ...
func (b *Backend) AbortTransaction(ctx context.Context, transactionID string, _ upload.Target) error {
	response, err := b.client.acknowledge(ctx, false, transactionID, nil)
	if err != nil {
		return fmt.Errorf("failed to cancel upload: %w", err)
	}
	logResponseMessage(response, b.logger)
	return nil
}

// Shutdown releases idle connections.
func (b *Backend) Shutdown() error {
	if b.client.httpClient.HTTPClient != nil {
		b.client.httpClient.HTTPClient.CloseIdleConnections()
	}
	return nil
}

func logResponseMessage(response acknowledgeResponse, logger log.Logger) {
	if response.Message == "" || response.Severity == "" {
		return
	}

	var loggerFn func(format string, v ...interface{})
	switch response.Severity {
	case "debug":
		loggerFn = logger.Debugf
	case "info":
		loggerFn = logger.Infof
	case "warning":
		loggerFn = logger.Warnf
	case "error":
		loggerFn = logger.Errorf
	default:
		loggerFn = logger.Printf
	}

	loggerFn("\n")
	loggerFn(response.Message)
	loggerFn("\n")
}
