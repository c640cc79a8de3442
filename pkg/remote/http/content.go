package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/remote"
)

func (c *Client) contentURL(key content.Key) string {
	return c.baseURL + "/v1/content/" + key.String()
}

// Fetch downloads the whole payload for key.
func (c *Client) Fetch(ctx context.Context, key content.Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("content %s: %w", key, remote.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remote.Transient(fmt.Errorf("failed to read response body: %w", err))
	}
	return payload, nil
}

// FetchRange downloads bytes [offset, offset+length) of the payload using an
// HTTP Range request. A server that ignores the header and replies 200 with
// the full payload is tolerated: the requested window is sliced out locally.
func (c *Client) FetchRange(ctx context.Context, key content.Key, offset, length int64) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if offset < 0 || length <= 0 {
		return nil, fmt.Errorf("invalid range [%d, %d)", offset, offset+length)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.contentURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setCommonHeaders(req)
	// Range is inclusive on both ends.
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		chunk, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, remote.Transient(fmt.Errorf("failed to read range body: %w", err))
		}
		return chunk, nil
	case http.StatusOK:
		full, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, remote.Transient(fmt.Errorf("failed to read response body: %w", err))
		}
		if offset >= int64(len(full)) {
			return nil, nil
		}
		end := offset + length
		if end > int64(len(full)) {
			end = int64(len(full))
		}
		return full[offset:end], nil
	case http.StatusRequestedRangeNotSatisfiable:
		// Past the end of the content: the available suffix is empty.
		return nil, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("content %s: %w", key, remote.ErrNotFound)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, errorFromResponse(resp.StatusCode, body)
	}
}

// ContentSize reports the payload size via a HEAD request.
func (c *Client) ContentSize(ctx context.Context, key content.Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.contentURL(key), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("content %s: %w", key, remote.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, errorFromResponse(resp.StatusCode, body)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("content length not available for %s", key)
	}
	return resp.ContentLength, nil
}
