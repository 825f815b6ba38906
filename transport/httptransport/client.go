// Package httptransport implements geosync.Transport over the geodb.io
// HTTP API.
package httptransport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/geodbio/geosync"
	syncErrors "github.com/geodbio/geosync/errors"
	"github.com/geodbio/geosync/logging"
	"github.com/geodbio/geosync/marker"
)

// Limits defines size and compression limits for the HTTP client
type Limits struct {
	MaxBodyBytes         int64 // Maximum response body size in bytes
	MaxDecompressedBytes int64 // Maximum decompressed response size
	EnableGzip           bool  // Whether to compress request bodies
	GzipMinBytes         int   // Minimum bytes before applying gzip compression
}

// DefaultLimits returns production limits: 8MB responses, 64MB
// decompressed, gzip above 1KB.
func DefaultLimits() Limits {
	return Limits{
		MaxBodyBytes:         8 << 20,
		MaxDecompressedBytes: 64 << 20,
		EnableGzip:           true,
		GzipMinBytes:         1024,
	}
}

// Client talks to the remote feature service.
type Client struct {
	baseURL   string
	http      *http.Client
	token     string
	limits    Limits
	pageSize  int
	endpoints map[string]string
	logger    *logging.Logger
}

// Compile-time check
var _ geosync.Transport = (*Client)(nil)

// Option configures a Client using the functional options pattern
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) Option {
	return func(c *Client) {
		c.http = cl
	}
}

// WithToken sets the bearer token sent on every request
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithLimits sets the size and compression limits
func WithLimits(l Limits) Option {
	return func(c *Client) {
		c.limits = l
	}
}

// WithPageSize sets the fetch page size requested from the service
func WithPageSize(n int) Option {
	return func(c *Client) {
		c.pageSize = n
	}
}

// WithEndpoint overrides the request path for one model. The path is
// relative to the base URL and may reference {project}.
func WithEndpoint(model, path string) Option {
	return func(c *Client) {
		c.endpoints[model] = path
	}
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 30 * time.Second},
		limits:    DefaultLimits(),
		pageSize:  200,
		endpoints: make(map[string]string),
		logger:    logging.WithComponent(logging.Component("http-transport")),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Limits returns the current limits configuration
func (c *Client) Limits() Limits {
	return c.limits
}

// fetchResponse is one page of the fetch endpoint.
type fetchResponse struct {
	Records    []*geosync.RemoteRecord `json:"records"`
	DeletedIDs []string                `json:"deleted_ids,omitempty"`
	ServerTime time.Time               `json:"sync_timestamp"`
	Next       string                  `json:"next,omitempty"`
}

// Fetch retrieves every page of the model's change window. A zero since
// marker requests the full snapshot; otherwise only records updated after
// the marker, plus the IDs deleted in the window, come back.
func (c *Client) Fetch(ctx context.Context, project, model string, since marker.Marker) (*geosync.FetchPage, error) {
	page := &geosync.FetchPage{Complete: since.IsZero()}

	next := ""
	for {
		resp, err := c.fetchPage(ctx, project, model, since, next)
		if err != nil {
			return nil, err
		}

		page.Records = append(page.Records, resp.Records...)
		page.DeletedIDs = append(page.DeletedIDs, resp.DeletedIDs...)
		if !resp.ServerTime.IsZero() {
			page.ServerTime = resp.ServerTime
		}

		if resp.Next == "" {
			break
		}
		next = resp.Next
	}

	c.logger.Debug("fetch complete",
		slog.String("model", model),
		slog.Int("records", len(page.Records)),
		slog.Int("deleted", len(page.DeletedIDs)),
		slog.Bool("snapshot", page.Complete))
	return page, nil
}

func (c *Client) fetchPage(ctx context.Context, project, model string, since marker.Marker, next string) (*fetchResponse, error) {
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(c.pageSize))
	if !since.IsZero() {
		query.Set("updated_since", since.String())
	}
	if next != "" {
		query.Set("page", next)
	}

	reqURL := c.endpointURL(project, model) + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpFetch, "transport",
			fmt.Errorf("failed to create request: %w", err))
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpFetch,
			fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(syncErrors.OpFetch, resp)
	}

	reader, cleanup, err := createSafeResponseReader(resp, c.limits)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpFetch, "transport", err)
	}
	defer cleanup()

	var decoded fetchResponse
	if err := json.NewDecoder(reader).Decode(&decoded); err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpFetch, "transport",
			fmt.Errorf("failed to decode response: %w", err))
	}
	return &decoded, nil
}

// sendRequest is the bulk push payload.
type sendRequest struct {
	Records []*geosync.RemoteRecord `json:"records"`
}

type sendResponse struct {
	Results []geosync.PushAck `json:"results"`
}

// Send pushes a batch of records in one bulk request and returns the
// per-record acknowledgements.
func (c *Client) Send(ctx context.Context, project, model string, batch []*geosync.RemoteRecord) ([]geosync.PushAck, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(sendRequest{Records: batch})
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpSend, "transport",
			fmt.Errorf("failed to marshal batch: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpointURL(project, model)+"/bulk", bytes.NewReader(payload))
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpSend, "transport",
			fmt.Errorf("failed to create request: %w", err))
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	if c.limits.EnableGzip && len(payload) > c.limits.GzipMinBytes {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(payload); err != nil {
			return nil, syncErrors.NewWithComponent(syncErrors.OpSend, "transport",
				fmt.Errorf("failed to compress request: %w", err))
		}
		if err := gw.Close(); err != nil {
			return nil, syncErrors.NewWithComponent(syncErrors.OpSend, "transport",
				fmt.Errorf("failed to close gzip writer: %w", err))
		}
		req.Body = io.NopCloser(&buf)
		req.ContentLength = int64(buf.Len())
		req.Header.Set("Content-Encoding", "gzip")

		c.logger.Debug("compressed push request",
			slog.Int("original_size", len(payload)),
			slog.Int("compressed_size", buf.Len()))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpSend,
			fmt.Errorf("network error: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.statusError(syncErrors.OpSend, resp)
	}

	reader, cleanup, err := createSafeResponseReader(resp, c.limits)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpSend, "transport", err)
	}
	defer cleanup()

	var decoded sendResponse
	if err := json.NewDecoder(reader).Decode(&decoded); err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpSend, "transport",
			fmt.Errorf("failed to decode response: %w", err))
	}
	return decoded.Results, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) endpointURL(project, model string) string {
	if path, ok := c.endpoints[model]; ok {
		return c.baseURL + strings.ReplaceAll(path, "{project}", url.PathEscape(project))
	}
	return fmt.Sprintf("%s/projects/%s/%s", c.baseURL, url.PathEscape(project), url.PathEscape(kebabCase(model)))
}

// kebabCase derives the default URL segment for a model name, so "PointNote"
// and "point_note" both resolve to /point-note.
func kebabCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || r == ' ':
			b.WriteByte('-')
		case r >= 'A' && r <= 'Z':
			if i > 0 && name[i-1] != '_' && name[i-1] != ' ' && name[i-1] != '-' {
				b.WriteByte('-')
			}
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusError maps HTTP status codes onto the sync error taxonomy so the
// retry layer can tell transient failures from fatal ones.
func (c *Client) statusError(op syncErrors.Operation, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, string(body))

	c.logger.Error("request failed",
		slog.String("op", string(op)),
		slog.Int("status_code", resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return syncErrors.NewAuthError(op, cause)
	case resp.StatusCode == http.StatusBadRequest ||
		resp.StatusCode == http.StatusUnprocessableEntity ||
		resp.StatusCode == http.StatusRequestEntityTooLarge:
		return syncErrors.NewValidationError(op, cause)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return syncErrors.NewServerError(op, cause)
	default:
		return syncErrors.NewWithComponent(op, "transport", cause)
	}
}
