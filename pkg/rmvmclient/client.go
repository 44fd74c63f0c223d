// Package rmvmclient implements the thin HTTP+JSON adapter that speaks
// to the external RMVM kernel deployment on behalf of the proxy: the
// four logical RPCs append_event, get_manifest, execute, and forget,
// each a POST of a rmvmproto request type to a fixed path. There are no
// retries — a stalled or rejected execution is a response the caller
// must act on, not a transport failure to paper over.
package rmvmclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cortexbrain/cortex/pkg/rmvmproto"
)

// Client talks to one RMVM kernel endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client for endpoint, which may be an http(s):// URL, a
// bare host:port, or a grpc:// URL. The RMVM transport used here is
// plain HTTP+JSON, so grpc:// is accepted and normalized to http:// but
// never dialed as gRPC — see NormalizeEndpoint.
func New(endpoint string) (*Client, error) {
	base, err := NormalizeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if caFile := os.Getenv("CORTEX_RMVM_TLS_CA_FILE"); caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("rmvmclient: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("rmvmclient: no certificates found in %s", caFile)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}

	return &Client{baseURL: base, httpClient: httpClient}, nil
}

// NormalizeEndpoint resolves an RMVM endpoint configuration value to an
// HTTP(S) base URL. A bare host:port defaults to http://; a grpc:// URL
// is rewritten to plaintext http:// since this adapter never opens a
// gRPC channel — the kernel's gRPC listener and its HTTP+JSON gateway
// are deployed on the same host and this project only ever speaks the
// latter. TLS is used only when the operator says https:// explicitly;
// http:// and https:// pass through unchanged.
func NormalizeEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("rmvmclient: endpoint must not be empty")
	}
	switch {
	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(endpoint, "/"), nil
	case strings.HasPrefix(endpoint, "grpc://"):
		return "http://" + strings.TrimSuffix(strings.TrimPrefix(endpoint, "grpc://"), "/"), nil
	default:
		return "http://" + strings.TrimSuffix(endpoint, "/"), nil
	}
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("rmvmclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("rmvmclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rmvmclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var body strings.Builder
		_, _ = body.ReadFrom(resp.Body)
		return fmt.Errorf("rmvmclient: %s: kernel returned %d: %s", path, resp.StatusCode, body.String())
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("rmvmclient: %s: decode response: %w", path, err)
	}
	return nil
}

// AppendEvent registers a new fact with the kernel.
func (c *Client) AppendEvent(ctx context.Context, req rmvmproto.AppendEventRequest) (rmvmproto.AppendEventResponse, error) {
	var resp rmvmproto.AppendEventResponse
	err := c.post(ctx, "/v1/append_event", req, &resp)
	return resp, err
}

// GetManifest fetches the manifest of handles and selectors visible to a
// subject for one request.
func (c *Client) GetManifest(ctx context.Context, req rmvmproto.GetManifestRequest) (rmvmproto.Manifest, error) {
	var resp rmvmproto.Manifest
	err := c.post(ctx, "/v1/get_manifest", req, &resp)
	return resp, err
}

// Execute submits a validated plan for kernel execution.
func (c *Client) Execute(ctx context.Context, req rmvmproto.ExecuteRequest) (rmvmproto.ExecuteResponse, error) {
	var resp rmvmproto.ExecuteResponse
	err := c.post(ctx, "/v1/execute", req, &resp)
	return resp, err
}

// Forget instructs the kernel to suppress a handle from future manifests.
func (c *Client) Forget(ctx context.Context, req rmvmproto.ForgetRequest) (rmvmproto.ForgetResponse, error) {
	var resp rmvmproto.ForgetResponse
	err := c.post(ctx, "/v1/forget", req, &resp)
	return resp, err
}
