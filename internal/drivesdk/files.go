package drivesdk

import (
	"context"
	"strconv"
)

// List fetches one page of a directory listing.
func (c *Client) List(ctx context.Context, uri string, page int) ([]*RemoteFile, string, error) {
	var envelope apiResponse[listFilesData]
	request := c.http.R().
		SetContext(ctx).
		SetQueryParam("uri", uri).
		SetSuccessResult(&envelope)
	if page > 0 {
		request.SetQueryParam("page", strconv.Itoa(page))
	}

	resp, err := request.Get("/file")
	if err := unwrap(resp, err, &envelope, "list files"); err != nil {
		return nil, "", err
	}

	return envelope.Data.Files, envelope.Data.NextMarker, nil
}

// ListAll walks a directory tree recursively and returns every file and
// directory below uri, following listing pagination.
func (c *Client) ListAll(ctx context.Context, uri string) ([]*RemoteFile, error) {
	var output []*RemoteFile

	pending := []string{uri}
	for len(pending) > 0 {
		dir := pending[0]
		pending = pending[1:]

		page := 1
		for {
			files, nextMarker, err := c.List(ctx, dir, page)
			if err != nil {
				return nil, err
			}
			for _, file := range files {
				output = append(output, file)
				if file.IsDir() {
					pending = append(pending, file.URI)
				}
			}
			if nextMarker == "" {
				break
			}
			page++
		}
	}

	return output, nil
}

// CreateDir creates a directory at uri, including missing parents.
func (c *Client) CreateDir(ctx context.Context, uri string) error {
	var envelope apiResponse[any]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"uri": uri, "type": "folder"}).
		SetSuccessResult(&envelope).
		Post("/file/create")
	return unwrap(resp, err, &envelope, "create dir")
}

// PatchMetadata applies the patches to every listed uri in one call.
func (c *Client) PatchMetadata(ctx context.Context, uris []string, patches []MetadataPatch) error {
	var envelope apiResponse[any]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"uris": uris, "patches": patches}).
		SetSuccessResult(&envelope).
		Patch("/file/metadata")
	return unwrap(resp, err, &envelope, "patch metadata")
}

// Delete permanently removes files. The sync engine never calls this for
// deletion propagation (which is metadata-only soft delete); it exists for
// explicit operator cleanup.
func (c *Client) Delete(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	var envelope apiResponse[any]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"uris": uris, "unlink": false}).
		SetSuccessResult(&envelope).
		Delete("/file")
	return unwrap(resp, err, &envelope, "delete files")
}
