package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
)

type initiateRequest struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeInBytes int64  `json:"size_in_bytes"`
	ACL         string `json:"acl"`
}

type initiateResponse struct {
	ID string `json:"id"`
}

type partURLRequest struct {
	SizeInBytes int64 `json:"size_in_bytes"`
}

type uploadURL struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

type acknowledgeRequest struct {
	Successful bool     `json:"successful"`
	Etags      []string `json:"etags"`
}

type acknowledgeResponse struct {
	Location string `json:"location"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

type apiClient struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

func newAPIClient(client *retryablehttp.Client, baseURL string, accessToken string, logger log.Logger) apiClient {
	return apiClient{
		httpClient:  client,
		baseURL:     baseURL,
		accessToken: accessToken,
		logger:      logger,
	}
}

func (c apiClient) initiate(ctx context.Context, requestBody initiateRequest) (initiateResponse, error) {
	endpoint := fmt.Sprintf("%s/multipart-upload", c.baseURL)

	var response initiateResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, requestBody, http.StatusCreated, &response); err != nil {
		return initiateResponse{}, err
	}
	if response.ID == "" {
		return initiateResponse{}, fmt.Errorf("empty upload ID in response")
	}
	return response, nil
}

func (c apiClient) partURL(ctx context.Context, uploadID string, partNumber int, size int64) (uploadURL, error) {
	endpoint := fmt.Sprintf("%s/multipart-upload/%s/parts/%d", c.baseURL, url.PathEscape(uploadID), partNumber)

	var response uploadURL
	if err := c.doJSON(ctx, http.MethodPost, endpoint, partURLRequest{SizeInBytes: size}, http.StatusOK, &response); err != nil {
		return uploadURL{}, err
	}
	if response.URL == "" {
		return uploadURL{}, fmt.Errorf("empty URL for part %d", partNumber)
	}
	if response.Method == "" {
		response.Method = http.MethodPut
	}
	return response, nil
}

func (c apiClient) uploadPart(ctx context.Context, uploadURL uploadURL, body io.ReadSeeker, size int64) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, uploadURL.Method, uploadURL.URL, body)
	if err != nil {
		return "", err
	}
	for k, v := range uploadURL.Headers {
		req.Header.Set(k, v)
	}

	// Add Content-Length header manually because retryablehttp doesn't do it automatically
	req.Header.Set("Content-Length", fmt.Sprintf("%d", size))
	req.ContentLength = size

	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("Part request dump: %s", string(dump))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	dump, err = httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("Part response dump: %s", string(dump))

	if resp.StatusCode != http.StatusOK {
		return "", unwrapError(resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return "", fmt.Errorf("missing ETag header in response")
	}
	return etag, nil
}

func (c apiClient) acknowledge(ctx context.Context, successful bool, uploadID string, partTags []string) (acknowledgeResponse, error) {
	endpoint := fmt.Sprintf("%s/multipart-upload/%s/acknowledge", c.baseURL, url.PathEscape(uploadID))

	if partTags == nil {
		partTags = []string{}
	}
	var response acknowledgeResponse
	err := c.doJSON(ctx, http.MethodPatch, endpoint, acknowledgeRequest{
		Successful: successful,
		Etags:      partTags,
	}, http.StatusOK, &response)
	if err != nil {
		return acknowledgeResponse{}, err
	}
	return response, nil
}

func (c apiClient) doJSON(ctx context.Context, method, endpoint string, requestBody interface{}, wantStatus int, response interface{}) error {
	body, err := sonic.ConfigStd.Marshal(requestBody)
	if err != nil {
		return err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.accessToken))
	req.Header.Set("Content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s %s response dump: %s", method, endpoint, string(dump))

	if resp.StatusCode != wantStatus {
		return unwrapError(resp)
	}

	return sonic.ConfigStd.NewDecoder(resp.Body).Decode(response)
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(errorResp)}
}

// StatusError is returned when the service answers with an unexpected HTTP status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}
