// Package appwrite is a small client for the Appwrite REST API covering the
// databases and storage calls docpilot needs.
package appwrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/docpilot/docpilot/internal/target"
)

// DefaultEndpoint is Appwrite Cloud.
const DefaultEndpoint = "https://cloud.appwrite.io/v1"

const defaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	Endpoint  string
	ProjectID string
	APIKey    string
	// Retries is the number of retries on connection errors, 429 and 5xx.
	// Zero disables retrying.
	Retries int
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client talks to one Appwrite project with a server API key.
type Client struct {
	endpoint  string
	projectID string
	apiKey    string
	http      *retryablehttp.Client
}

// Error is an error response from Appwrite.
type Error struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Code       int    `json:"code"`
	Type       string `json:"type"`
}

func (e *Error) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("appwrite: %s (%d %s)", e.Message, e.StatusCode, e.Type)
	}
	return fmt.Sprintf("appwrite: %s (%d)", e.Message, e.StatusCode)
}

// Is maps HTTP statuses onto the target sentinels.
func (e *Error) Is(err error) bool {
	switch err {
	case target.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case target.ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// New returns a client for the given project.
func New(opts Options) (*Client, error) {
	var missing []string
	if opts.Endpoint == "" {
		missing = append(missing, "endpoint")
	}
	if opts.ProjectID == "" {
		missing = append(missing, "project id")
	}
	if opts.APIKey == "" {
		missing = append(missing, "API key")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("appwrite: missing %s", strings.Join(missing, ", "))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	hc := retryablehttp.NewClient()
	hc.HTTPClient = cleanhttp.DefaultPooledClient()
	hc.HTTPClient.Timeout = opts.Timeout
	hc.RetryMax = opts.Retries
	// Hand non-retryable and exhausted responses back so the body can be decoded.
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.Logger = nil
	if opts.Logger != nil {
		hc.Logger = opts.Logger
	}

	return &Client{
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		projectID: opts.ProjectID,
		apiKey:    opts.APIKey,
		http:      hc,
	}, nil
}

// Endpoint returns the API base URL without a trailing slash.
func (c *Client) Endpoint() string { return c.endpoint }

// ProjectID returns the project the client is bound to.
func (c *Client) ProjectID() string { return c.projectID }

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, contentType string) (*retryablehttp.Request, error) {
	var raw any
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint+path, raw)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Appwrite-Project", c.projectID)
	req.Header.Set("X-Appwrite-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// do sends a request and decodes a JSON response into out when out is
// non-nil. Non-2xx responses are returned as *Error.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	contentType := ""
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) send(req *retryablehttp.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(bytes.ToValidUTF8(data, nil)))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

// Close releases idle connections.
func (c *Client) Close(_ context.Context) error {
	c.http.HTTPClient.CloseIdleConnections()
	return nil
}

// IsAPIError reports whether err carries an Appwrite error response and
// returns it.
func IsAPIError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
