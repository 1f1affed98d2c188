// Package client talks to a gallery-sync server: snapshot and control
// requests over HTTP, and the pushed event stream over a websocket.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"

	gerrors "github.com/alexjbarnes/gallery-sync/internal/errors"
	"github.com/alexjbarnes/gallery-sync/internal/models"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout bounds a single attempt, including reading a
	// large snapshot.
	httpClientTimeout = 60 * time.Second

	// maxSnapshotBytes caps snapshot reads. Listings with full ComfyUI
	// workflows in every record get large.
	maxSnapshotBytes = 512 * 1024 * 1024

	// maxErrorBodyBytes caps reads of non-200 bodies.
	maxErrorBodyBytes = 64 * 1024

	defaultRetryMax     = 3
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 5 * time.Second
)

// Options configures a Client. Zero values pick defaults.
type Options struct {
	Username string
	Password string

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// HTTPClient replaces the underlying client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the gallery-sync HTTP API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *retryablehttp.Client
	logger     *slog.Logger
}

// sameHostRedirectPolicy blocks redirects to a different host so basic
// auth credentials never leave the configured server.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts Options, logger *slog.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = logger
	rc.RetryMax = defaultRetryMax
	rc.RetryWaitMin = defaultRetryWaitMin
	rc.RetryWaitMax = defaultRetryWaitMax
	// Hand the final response back so error bodies can be reported.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if opts.RetryMax > 0 {
		rc.RetryMax = opts.RetryMax
	}

	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}

	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		username:   opts.Username,
		password:   opts.Password,
		httpClient: rc,
		logger:     logger,
	}
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// sanitizeResponseBody truncates a response body and replaces invalid
// UTF-8 and control characters so it is safe to embed in an error.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return strings.TrimSpace(string(clean))
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// do sends a request and returns the response body of a 200. Network
// failures and retryable statuses come back as TransientError.
func (c *Client) do(ctx context.Context, method, endpoint string, limit int64) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &TransientError{Err: fmt.Errorf("%w: %s %s: %w", gerrors.ErrSnapshotRequest, method, endpoint, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		err := fmt.Errorf("%w: %s %s returned status %d: %s",
			gerrors.ErrSnapshotRequest, method, endpoint, resp.StatusCode, sanitizeResponseBody(body))

		if isTransientStatus(resp.StatusCode) {
			return nil, &TransientError{Err: err}
		}

		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("reading response from %s: %w", endpoint, err)}
	}

	return body, nil
}

// Snapshot fetches the full folder listing from GET /Gallery/images.
// Folder values sent as arrays are normalized to the map shape.
func (c *Client) Snapshot(ctx context.Context) (models.FolderMap, error) {
	body, err := c.do(ctx, http.MethodGet, "/Gallery/images", maxSnapshotBytes)
	if err != nil {
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("%w: %w", gerrors.ErrSnapshotResponse, err)
	}

	if snap.Folders == nil {
		return nil, fmt.Errorf("%w: missing folders", gerrors.ErrSnapshotResponse)
	}

	return snap.Folders, nil
}

// Refresh asks the server to broadcast Gallery.file_change.
func (c *Client) Refresh(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/Gallery/refresh", maxErrorBodyBytes)
	return err
}

// Clear asks the server to broadcast Gallery.clear.
func (c *Client) Clear(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/Gallery/clear", maxErrorBodyBytes)
	return err
}

// Update asks the server to rescan and broadcast the full listing.
func (c *Client) Update(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/Gallery/update", maxErrorBodyBytes)
	return err
}

// MediaURL resolves a record URL against the server.
func (c *Client) MediaURL(recordURL string) string {
	if recordURL == "" {
		return ""
	}

	if u, err := url.Parse(recordURL); err == nil && u.IsAbs() {
		return recordURL
	}

	return c.baseURL + "/" + strings.TrimPrefix(recordURL, "/")
}

// EventsURL returns the websocket URL of the event stream.
func (c *Client) EventsURL() string {
	u := c.baseURL

	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}

	return u + "/Gallery/events"
}

// authHeader returns the headers sent when dialing the event stream.
func (c *Client) authHeader() http.Header {
	h := http.Header{}
	if c.username != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
		h.Set("Authorization", "Basic "+creds)
	}

	return h
}
