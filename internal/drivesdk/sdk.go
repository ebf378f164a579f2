package drivesdk

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/skysyncd/skysync/internal/version"
)

const (
	HeaderUserAgent = "User-Agent"
	HeaderDeviceID  = "X-Sky-Device-Id"

	apiPrefix = "/api/v4"
)

var userAgent = fmt.Sprintf("SkySync/%s (%s; %s/%s)", version.Version, version.Revision, runtime.GOOS, runtime.GOARCH)

// Client talks to a drive server's v4 REST API. All calls unwrap the
// `{code, msg, data}` envelope and surface non-zero codes as *APIError.
type Client struct {
	http    *req.Client
	baseURL string
}

// New creates a Client for the given server base URL. The deviceID is sent
// with every request so the server can attribute writes to an installation.
func New(serverURL, deviceID string) *Client {
	base := normalizeBaseURL(serverURL)

	httpClient := req.C().
		SetBaseURL(base).
		SetCommonRetryCount(3).
		SetCommonRetryBackoffInterval(1*time.Second, 5*time.Second).
		SetTimeout(5 * time.Minute).
		SetUserAgent(userAgent).
		SetCommonHeader(HeaderDeviceID, deviceID).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &Client{
		http:    httpClient,
		baseURL: base,
	}
}

// SetToken sets the bearer token used for authenticated calls.
func (c *Client) SetToken(accessToken string) {
	c.http.SetCommonBearerAuthToken(accessToken)
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// normalizeBaseURL appends the API prefix unless the caller already included it.
func normalizeBaseURL(serverURL string) string {
	trimmed := strings.TrimRight(serverURL, "/")
	if strings.HasSuffix(trimmed, apiPrefix) {
		return trimmed
	}
	return trimmed + apiPrefix
}
