// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

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
)

// DefaultBaseURL is used when no resolver is configured.
// Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues on Windows.
const DefaultBaseURL = "http://127.0.0.1:11434"

// DefaultCatalogURL is the public model catalog.
const DefaultCatalogURL = "https://ollama.com"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4 << 10

// maxCatalogBody caps catalog page downloads.
const maxCatalogBody = 4 << 20

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434).
	// Ignored once a resolver is installed with WithBaseURLFunc.
	BaseURL string

	// CatalogURL is the model catalog base URL (default: https://ollama.com)
	CatalogURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// UserAgent sent with every request
	UserAgent string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:    DefaultBaseURL,
		CatalogURL: DefaultCatalogURL,
		Timeout:    30 * time.Second,
		UserAgent:  "rigrun-relay",
	}
}

// URLFunc resolves a base URL at call time.
type URLFunc func() string

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is thread-safe for concurrent use.
//
// Example:
//
//	client := ollama.NewClient()
//	body, err := client.OpenPullStream(ctx, "llama3.2")
//	if err != nil {
//	    return err
//	}
//	defer body.Close()
type Client struct {
	config     *ClientConfig
	baseURL    URLFunc
	catalogURL URLFunc
	httpClient *http.Client
	// streamClient has no overall timeout; streams live as long as their context.
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.CatalogURL == "" {
		config.CatalogURL = DefaultCatalogURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UserAgent == "" {
		config.UserAgent = "rigrun-relay"
	}

	// SECURITY: TLS not required for the default target - Ollama runs locally over HTTP.
	// Remote targets configured with https:// use the default transport's TLS settings.
	return &Client{
		config:       config,
		baseURL:      staticURL(config.BaseURL),
		catalogURL:   staticURL(config.CatalogURL),
		httpClient:   &http.Client{Timeout: config.Timeout},
		streamClient: &http.Client{},
	}
}

func staticURL(u string) URLFunc {
	return func() string { return u }
}

// WithBaseURLFunc installs a resolver consulted on every request.
func (c *Client) WithBaseURLFunc(fn URLFunc) *Client {
	if fn != nil {
		c.baseURL = fn
	}
	return c
}

// WithCatalogURLFunc installs a resolver for the catalog base URL.
func (c *Client) WithCatalogURLFunc(fn URLFunc) *Client {
	if fn != nil {
		c.catalogURL = fn
	}
	return c
}

// WithHTTPClient replaces the underlying HTTP clients. Used by tests to
// inject a custom transport.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
		c.streamClient = &http.Client{Transport: hc.Transport}
	}
	return c
}

// BaseURL returns the currently resolved Ollama base URL.
func (c *Client) BaseURL() string {
	u := strings.TrimRight(c.baseURL(), "/")
	if u == "" {
		return DefaultBaseURL
	}
	return u
}

// CatalogURL returns the currently resolved catalog base URL.
func (c *Client) CatalogURL() string {
	u := strings.TrimRight(c.catalogURL(), "/")
	if u == "" {
		return DefaultCatalogURL
	}
	return u
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, c.BaseURL(), nil)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return httpError(resp.StatusCode, reasonPhrase(resp), "")
	}
	return nil
}

// =============================================================================
// STREAMING
// =============================================================================

// OpenChatStream starts a streaming /api/chat call and returns the response
// body. The call is bound to ctx: cancelling it aborts the request whether or
// not bytes have arrived. The caller must close the body.
func (c *Client) OpenChatStream(ctx context.Context, model string, messages []Message) (io.ReadCloser, error) {
	if messages == nil {
		messages = []Message{}
	}
	return c.openStream(ctx, "/api/chat", ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
}

// OpenPullStream starts a streaming /api/pull call for model.
func (c *Client) OpenPullStream(ctx context.Context, model string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/api/pull", PullRequest{
		Model:  model,
		Name:   model,
		Stream: true,
	})
}

func (c *Client) openStream(ctx context.Context, path string, reqBody any) (io.ReadCloser, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeDecode, Message: "failed to marshal request", Cause: err}
	}

	resp, err := c.do(ctx, c.streamClient, http.MethodPost, c.BaseURL()+path, body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer drainAndClose(resp.Body)
		return nil, httpError(resp.StatusCode, reasonPhrase(resp), readErrorDetail(resp.Body))
	}

	if resp.Body == nil || resp.Body == http.NoBody || resp.ContentLength == 0 {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &ClientError{Type: ErrTypeNoBody, Status: resp.StatusCode, Message: msgNoBody}
	}

	return resp.Body, nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all locally available models (/api/tags).
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.getJSON(ctx, "/api/tags", &result); err != nil {
		return nil, err
	}
	if result.Models == nil {
		result.Models = []ModelInfo{}
	}
	return result.Models, nil
}

// ListRunning retrieves the models currently loaded in memory (/api/ps).
func (c *Client) ListRunning(ctx context.Context) ([]RunningModel, error) {
	var result ListRunningResponse
	if err := c.getJSON(ctx, "/api/ps", &result); err != nil {
		return nil, err
	}
	if result.Models == nil {
		result.Models = []RunningModel{}
	}
	return result.Models, nil
}

// Version returns the server version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var result VersionResponse
	if err := c.getJSON(ctx, "/api/version", &result); err != nil {
		return "", err
	}
	return result.Version, nil
}

// Unload evicts model from memory by sending an empty chat with a zero
// keep-alive. Ollama confirms with done_reason "unload".
func (c *Client) Unload(ctx context.Context, model string) (*ChatResponse, error) {
	zero := 0
	body, err := json.Marshal(ChatRequest{
		Model:     model,
		Messages:  []Message{},
		Stream:    false,
		KeepAlive: &zero,
	})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeDecode, Message: "failed to marshal request", Cause: err}
	}

	var result ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, c.BaseURL()+"/api/chat", body, &result); err != nil {
		return nil, err
	}
	if result.DoneReason != "unload" {
		return &result, &ClientError{
			Type:    ErrTypeServer,
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("model %s was not unloaded (done_reason=%q)", model, result.DoneReason),
		}
	}
	return &result, nil
}

// =============================================================================
// CATALOG
// =============================================================================

// CatalogModel fetches the catalog page for a model and returns it unparsed.
func (c *Client) CatalogModel(ctx context.Context, name string) (string, error) {
	return c.getText(ctx, c.CatalogURL()+"/library/"+url.PathEscape(name))
}

// CatalogSearch fetches catalog search results for query and returns them unparsed.
func (c *Client) CatalogSearch(ctx context.Context, query string) (string, error) {
	return c.getText(ctx, c.CatalogURL()+"/search?q="+url.QueryEscape(query))
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// do issues a request and classifies transport failures.
func (c *Client) do(ctx context.Context, hc *http.Client, method, target string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeTransport, Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, c.BaseURL()+path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, target string, body []byte, out any) error {
	resp, err := c.do(ctx, c.httpClient, method, target, body)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpError(resp.StatusCode, reasonPhrase(resp), readErrorDetail(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeDecode, Status: resp.StatusCode, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func (c *Client) getText(ctx context.Context, target string) (string, error) {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", httpError(resp.StatusCode, reasonPhrase(resp), "")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBody))
	if err != nil {
		return "", transportError(ctx, err)
	}
	return string(data), nil
}

// reasonPhrase returns the status text without the numeric code.
func reasonPhrase(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	if _, after, ok := strings.Cut(resp.Status, " "); ok && after != "" {
		return after
	}
	return resp.Status
}

// readErrorDetail extracts Ollama's {"error": "..."} message, if any.
func readErrorDetail(r io.Reader) string {
	if r == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var ollamaErr OllamaError
	if json.Unmarshal(data, &ollamaErr) == nil {
		return ollamaErr.Error
	}
	return ""
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	if r == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(r, maxErrorBody))
	r.Close()
}
