package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every request unless overridden
	DefaultTimeout = 10 * time.Second
	// DefaultTransferTimeout bounds file uploads and downloads
	DefaultTransferTimeout = 10 * time.Minute
)

// APIError is returned for any non-2xx answer from the fleet server
type APIError struct {
	StatusCode int
	Message    string
	// Leader is set when a write reached a follower
	Leader string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the fleet server
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client is a typed wrapper around the fleet server REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	transfer   time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTransferTimeout sets the timeout of file uploads and downloads
func WithTransferTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.transfer = d
		}
	}
}

// New creates a client for the fleet server at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		transfer:   DefaultTransferTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the fleet server address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// EventsURL returns the websocket address of the status feed
func (c *Client) EventsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/events"
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	return c.doTimeout(ctx, c.timeout, method, path, body, contentType, out)
}

func (c *Client) doTimeout(ctx context.Context, timeout time.Duration, method, path string, body io.Reader, contentType string, out interface{}) error {
	resp, cancel, err := c.open(ctx, timeout, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// open sends a request and returns the 2xx response. cancel releases the
// request's deadline and must be called once the body is done.
func (c *Client) open(ctx context.Context, timeout time.Duration, method, path string, body io.Reader, contentType string) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		return nil, nil, readError(resp)
	}
	return resp, cancel, nil
}

// download ends the request deadline when the response body is closed
type download struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *download) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error  string `json:"error"`
		Leader string `json:"leader"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Leader = body.Leader
	} else if text := strings.TrimSpace(string(data)); text != "" && len(text) < 200 {
		apiErr.Message = text
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, "", out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, body, contentType, out)
}

// upload posts a multipart form with one file field and extra string fields
func (c *Client) upload(ctx context.Context, path, filename string, content io.Reader, fields map[string]string, out interface{}) error {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		var err error
		for k, v := range fields {
			if err = writer.WriteField(k, v); err != nil {
				break
			}
		}
		if err == nil {
			var part io.Writer
			part, err = writer.CreateFormFile("file", filename)
			if err == nil {
				_, err = io.Copy(part, content)
			}
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	err := c.doTimeout(ctx, c.transfer, http.MethodPost, path, pr, writer.FormDataContentType(), out)
	pr.Close()
	return err
}

func escape(id string) string {
	return url.PathEscape(id)
}
