package source

import (
	"context"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/melbahja/got"
)

// HTTPDownloader downloads sources with parallel range requests.
type HTTPDownloader struct {
	client *http.Client
}

// NewHTTPDownloader ...
func NewHTTPDownloader(logger log.Logger) HTTPDownloader {
	retryableHTTPClient := retryhttp.NewClient(logger)
	retryableHTTPClient.CheckRetry = createCustomRetryFunction(logger)
	return HTTPDownloader{client: retryableHTTPClient.StandardClient()}
}

// Get ...
func (d HTTPDownloader) Get(ctx context.Context, destination, source string) error {
	downloader := got.New()
	downloader.Client = d.client

	return downloader.Do(got.NewDownload(ctx, source, destination))
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, downloadErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, downloadErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; downloadErr=%+v", retry, err, downloadErr)
		return retry, err
	}
}
