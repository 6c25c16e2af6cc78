package delhivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxResponseBytes bounds how much of a response body is read. Labels are
// the largest payloads the carrier returns.
const maxResponseBytes = 10 << 20

// Paths holds the endpoint paths, relative to the base URL.
type Paths struct {
	Create      string
	Edit        string
	Pickup      string
	PackingSlip string
}

// DefaultPaths returns the production endpoint paths.
func DefaultPaths() Paths {
	return Paths{
		Create:      "/api/cmu/create.json",
		Edit:        "/api/p/edit",
		Pickup:      "/fm/request/new/",
		PackingSlip: "/api/p/packing_slip",
	}
}

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	token      string
	paths      Paths
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	Paths     Paths
	Transport http.RoundTripper // defaults to http.DefaultTransport
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
// Every outbound request is traced through otelhttp.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	paths := cfg.Paths
	if paths == (Paths{}) {
		paths = DefaultPaths()
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	return &HTTPAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		paths:   paths,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
	}
}

// CreateShipment books shipments. The carrier expects the JSON document as
// the "data" field of a form body.
func (c *HTTPAPIClient) CreateShipment(ctx context.Context, req *CreatePayload) (*RawResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create payload: %w", err)
	}

	form := url.Values{}
	form.Set("format", "json")
	form.Set("data", string(data))

	return c.doRequest(ctx, http.MethodPost, c.baseURL+c.paths.Create,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// EditShipment posts a waybill edit; cancellation is an edit.
func (c *HTTPAPIClient) EditShipment(ctx context.Context, req *EditRequest) (*RawResponse, error) {
	return c.doJSON(ctx, http.MethodPost, c.paths.Edit, req)
}

// CreatePickup posts a pickup request in whichever schema body carries.
func (c *HTTPAPIClient) CreatePickup(ctx context.Context, body any) (*RawResponse, error) {
	return c.doJSON(ctx, http.MethodPost, c.paths.Pickup, body)
}

// PackingSlip fetches the label document for a waybill.
func (c *HTTPAPIClient) PackingSlip(ctx context.Context, awb, size string) (*RawResponse, error) {
	q := url.Values{}
	q.Set("wbns", awb)
	q.Set("pdf", "true")
	if size != "" {
		q.Set("pdf_size", size)
	}
	return c.doRequest(ctx, http.MethodGet, c.baseURL+c.paths.PackingSlip+"?"+q.Encode(), "", nil)
}

// Probe issues a HEAD request against a label URL. Label URLs are
// pre-signed, so no credentials are attached.
func (c *HTTPAPIClient) Probe(ctx context.Context, target string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (c *HTTPAPIClient) doJSON(ctx context.Context, method, path string, body any) (*RawResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.doRequest(ctx, method, c.baseURL+path, "application/json", bytes.NewReader(jsonBody))
}

// doRequest performs an HTTP request with authentication and reads the
// bounded response body. Only transport failures are returned as errors.
func (c *HTTPAPIClient) doRequest(ctx context.Context, method, target, contentType string, body io.Reader) (*RawResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Token "+c.token) // Delhivery uses token auth
	req.Header.Set("User-Agent", "tournevent-fulfillment/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &RawResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
