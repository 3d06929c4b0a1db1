// Package remote talks to the remote file-management service.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/imroc/req/v3"
	"github.com/polydrive/polydrive/internal/version"
)

const (
	v1Files       = "/api/v1/files"
	v1File        = "/api/v1/files/{id}"
	v1FileContent = "/api/v1/files/{id}/content"

	defaultTimeout = 60 * time.Second
)

// Service is the request/response boundary of the remote file-management service.
// Implementations must be safe for concurrent use.
type Service interface {
	List(ctx context.Context) ([]Entry, error)
	Upload(ctx context.Context, params *UploadParams) (*Entry, error)
	Delete(ctx context.Context, id string) error
	Download(ctx context.Context, id string, w io.Writer) error
}

// Client is the HTTP implementation of Service
type Client struct {
	client *req.Client
}

var _ Service = (*Client)(nil)

type ClientOption func(*req.Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *req.Client) {
		c.SetTimeout(d)
	}
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote: base url missing")
	}

	client := req.C().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetUserAgent("Polydrive/"+version.Version).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&APIError{})

	for _, opt := range opts {
		opt(client)
	}

	return &Client{client: client}, nil
}

// List returns every entry the remote service currently holds
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	var apiResp ListResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&apiResp).
		Get(v1Files)

	if err := handleAPIError(resp, err, "list"); err != nil {
		return nil, err
	}

	return apiResp.Files, nil
}

// Upload creates or updates the remote entry for params.Path with the file contents
func (c *Client) Upload(ctx context.Context, params *UploadParams) (*Entry, error) {
	var entry Entry
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("path", params.Path).
		SetQueryParam("hash", params.Hash).
		SetQueryParam("size", strconv.FormatInt(params.Size, 10)).
		SetFile("file", params.FilePath).
		SetSuccessResult(&entry).
		Put(v1Files)

	if err := handleAPIError(resp, err, "upload"); err != nil {
		return nil, err
	}

	return &entry, nil
}

// Delete removes a remote entry by id
func (c *Client) Delete(ctx context.Context, id string) error {
	var apiResp DeleteResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&apiResp).
		Delete(v1File)

	return handleAPIError(resp, err, "delete")
}

// Download streams the content of a remote entry to w. w may hold partial
// or unrelated bytes when an error is returned.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetOutput(struct{ io.Writer }{w}). // req closes outputs that are Closers
		Get(v1FileContent)

	return handleAPIError(resp, err, "download")
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, operation, requestErr)
	}

	if !resp.IsErrorState() {
		return nil
	}

	if apiErr, ok := resp.ErrorResult().(*APIError); ok && apiErr.Code != "" {
		apiErr.Status = resp.StatusCode
		return fmt.Errorf("%s: %w", operation, apiErr)
	}

	return fmt.Errorf("%s: %w", operation, NewAPIError(resp.StatusCode, CodeUnknownError, http.StatusText(resp.StatusCode)))
}
