package drivesdk

import (
	"context"
	"fmt"
	"strconv"
)

// CreateDownloadURLs asks the server for short-lived direct URLs for the
// given file uris.
func (c *Client) CreateDownloadURLs(ctx context.Context, uris []string) ([]DownloadURL, error) {
	var envelope apiResponse[downloadURLData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"uris": uris, "download": true}).
		SetSuccessResult(&envelope).
		Post("/file/url")
	if err := unwrap(resp, err, &envelope, "create download urls"); err != nil {
		return nil, err
	}

	return envelope.Data.URLs, nil
}

// DownloadFile fetches the full content of one file.
func (c *Client) DownloadFile(ctx context.Context, uri string) ([]byte, error) {
	urls, err := c.CreateDownloadURLs(ctx, []string{uri})
	if err != nil {
		return nil, err
	}
	if len(urls) == 0 {
		return nil, ErrNoDownloadURL
	}

	resp, err := c.http.R().
		SetContext(ctx).
		Get(urls[0].URL)
	if err != nil {
		return nil, fmt.Errorf("download %q: %w", uri, err)
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("download %q: %s", uri, resp.Status)
	}

	return resp.Bytes(), nil
}

// UpdateContent uploads content as the new version of the file at uri in a
// single request. Servers reject bodies above their single-request limit with
// CodeFileTooLarge; callers should fall back to an upload session.
func (c *Client) UpdateContent(ctx context.Context, uri string, content []byte) error {
	var envelope apiResponse[any]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("uri", uri).
		SetHeader("Content-Length", strconv.Itoa(len(content))).
		SetBodyBytes(content).
		SetSuccessResult(&envelope).
		Put("/file/content")
	return unwrap(resp, err, &envelope, "update content")
}

// CreateUploadSession opens a chunked upload session for a file of the given size.
func (c *Client) CreateUploadSession(ctx context.Context, uri string, size int64) (*UploadSession, error) {
	var envelope apiResponse[UploadSession]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"uri": uri, "size": size}).
		SetSuccessResult(&envelope).
		Put("/file/upload")
	if err := unwrap(resp, err, &envelope, "create upload session"); err != nil {
		return nil, err
	}

	return &envelope.Data, nil
}

// UploadChunk transmits one chunk of an open session. Chunks are zero-indexed
// and may be retried individually; the server overwrites a re-sent index.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, index int, chunk []byte) error {
	var envelope apiResponse[any]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Length", strconv.Itoa(len(chunk))).
		SetBodyBytes(chunk).
		SetSuccessResult(&envelope).
		Post(fmt.Sprintf("/file/upload/%s/%d", sessionID, index))
	return unwrap(resp, err, &envelope, "upload chunk")
}

// DeleteUploadSession abandons an open session so the server can reclaim it.
func (c *Client) DeleteUploadSession(ctx context.Context, sessionID string, uri string) error {
	var envelope apiResponse[any]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"id": sessionID, "uri": uri}).
		SetSuccessResult(&envelope).
		Delete("/file/upload")
	return unwrap(resp, err, &envelope, "delete upload session")
}
