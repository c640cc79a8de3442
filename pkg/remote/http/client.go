// Package http provides the REST implementation of the remote contracts.
// One Client serves both roles: content fetches (with byte-range support for
// resumable downloads) and sync operation submission.
package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/voxbiblia/ark/pkg/remote"
)

// Client talks to the Ark backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

// New creates a new API client. The base URL carries no trailing slash.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewWithClient creates a client with a caller-supplied http.Client, used
// when the caller needs custom timeouts or transports.
func NewWithClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// WithToken returns a new client with the given bearer token.
func (c *Client) WithToken(token string) *Client {
	return &Client{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		token:      token,
	}
}

// SetToken sets the authentication token.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// errorFromResponse turns a non-success response into an error, wrapping it
// as transient when the status says retrying can help.
func errorFromResponse(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	if json.Unmarshal(body, apiErr) != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
	}
	apiErr.StatusCode = status

	if isTransientStatus(status) {
		return remote.Transient(apiErr)
	}
	return apiErr
}

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

var (
	_ remote.ContentSource = (*Client)(nil)
	_ remote.SyncService   = (*Client)(nil)
)
