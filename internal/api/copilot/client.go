package copilot

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/copilot-bridge/internal/domain"
)

const (
	defaultGitHubBaseURL = "https://api.github.com"
	tokenExchangePath    = "/copilot_internal/v2/token"

	editorPluginVersion = "copilot-chat/0.26.7"
	userAgent           = "GitHubCopilotChat/0.26.7"
	apiVersion          = "2025-04-01"
	defaultEditor       = "vscode/1.100.0"
)

// ClientOption configures the client.
type ClientOption func(*Client)

// WithGitHubBaseURL sets a custom base URL for the credential exchange API.
func WithGitHubBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.githubBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithAPIBaseURL sets a custom base URL for the chat completion API,
// overriding the account-tier derived URL.
func WithAPIBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.apiBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithEditorVersion sets the editor identifier sent to the backend,
// e.g. "vscode/1.100.0".
func WithEditorVersion(v string) ClientOption {
	return func(c *Client) {
		c.editorVersion = v
	}
}

// Client is the HTTP client for the backend APIs.
type Client struct {
	githubBaseURL string
	apiBaseURL    string
	editorVersion string
	httpClient    *http.Client
}

// NewClient creates a backend client for the given account tier. The
// "individual" tier uses the default API host; other tiers get a
// tier-specific subdomain.
func NewClient(accountType string, opts ...ClientOption) *Client {
	c := &Client{
		githubBaseURL: defaultGitHubBaseURL,
		apiBaseURL:    apiBaseURL(accountType),
		editorVersion: defaultEditor,
		httpClient:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func apiBaseURL(accountType string) string {
	if accountType == "" || accountType == "individual" {
		return "https://api.githubcopilot.com"
	}
	return fmt.Sprintf("https://api.%s.githubcopilot.com", accountType)
}

// ExchangeToken exchanges a long-lived GitHub token for a short-lived backend
// token.
func (c *Client) ExchangeToken(ctx context.Context, githubToken string) (*TokenResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.githubBaseURL+tokenExchangePath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setGitHubHeaders(httpReq, githubToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token exchange response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.ErrAuthentication(
			fmt.Sprintf("token exchange failed (status %d): %s", resp.StatusCode, truncate(body))).
			WithCode(domain.ErrorCodeExchangeFailed)
	}

	var result TokenResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token exchange response: %w", err)
	}
	return &result, nil
}

// ListModels retrieves the backend model list.
func (c *Client) ListModels(ctx context.Context, token string) (*ModelList, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAPIHeaders(httpReq, token, nil)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read models response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp.StatusCode, body)
	}

	var result ModelList
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal models response: %w", err)
	}
	return &result, nil
}

// RequestOptions carries per-request backend hints.
type RequestOptions struct {
	// Vision marks requests containing image content.
	Vision bool

	// Agent marks conversations that include assistant or tool turns.
	Agent bool
}

// CreateChatCompletion sends a non-streaming chat completion request.
func (c *Client) CreateChatCompletion(ctx context.Context, token string, req *ChatCompletionRequest, opts *RequestOptions) (*ChatCompletionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.postChatCompletions(ctx, token, body, opts)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.ErrUpstream(fmt.Sprintf("failed to parse backend response: %v", err))
	}
	return &result, nil
}

// ErrMalformedChunk marks a stream increment that could not be decoded. The
// stream continues past it.
var ErrMalformedChunk = errors.New("malformed chunk")

// StreamResult wraps a chunk or error from streaming.
type StreamResult struct {
	Chunk *ChatCompletionChunk
	Err   error
}

// StreamChatCompletion sends a streaming chat completion request and returns
// a channel of chunks. The channel closes when the stream ends; cancelling
// ctx aborts the upstream request. No stream_options are injected: the
// backend reports usage on the finish chunk, and opting into include_usage
// would move it to a trailing chunk after the stream has already terminated.
func (c *Client) StreamChatCompletion(ctx context.Context, token string, req *ChatCompletionRequest, opts *RequestOptions) (<-chan StreamResult, error) {
	req.Stream = true

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.postChatCompletions(ctx, token, body, opts)
	if err != nil {
		return nil, err
	}

	out := make(chan StreamResult)
	go c.streamReader(resp.Body, out)
	return out, nil
}

// ForwardChatCompletion sends a raw request body to the chat completion
// endpoint and returns the raw response, for passthrough handling. The caller
// owns the response body.
func (c *Client) ForwardChatCompletion(ctx context.Context, token string, body []byte, opts *RequestOptions) (*http.Response, error) {
	return c.postChatCompletions(ctx, token, body, opts)
}

func (c *Client) postChatCompletions(ctx context.Context, token string, body []byte, opts *RequestOptions) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAPIHeaders(httpReq, token, opts)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, upstreamError(resp.StatusCode, respBody)
	}
	return resp, nil
}

func (c *Client) streamReader(body io.ReadCloser, out chan<- StreamResult) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	// Increase buffer size for potentially large chunks
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			continue
		}

		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		if data == "[DONE]" {
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			out <- StreamResult{Err: fmt.Errorf("%w: %v", ErrMalformedChunk, err)}
			continue
		}

		out <- StreamResult{Chunk: &chunk}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamResult{Err: fmt.Errorf("stream read error: %w", err)}
	}
}

func (c *Client) setGitHubHeaders(req *http.Request, githubToken string) {
	h := req.Header
	h.Set("Authorization", "token "+githubToken)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("Editor-Version", c.editorVersion)
	h.Set("Editor-Plugin-Version", editorPluginVersion)
	h.Set("User-Agent", userAgent)
	h.Set("X-GitHub-Api-Version", apiVersion)
}

func (c *Client) setAPIHeaders(req *http.Request, token string, opts *RequestOptions) {
	h := req.Header
	h.Set("Authorization", "Bearer "+token)
	h.Set("Content-Type", "application/json")
	h.Set("Copilot-Integration-Id", "vscode-chat")
	h.Set("Editor-Version", c.editorVersion)
	h.Set("Editor-Plugin-Version", editorPluginVersion)
	h.Set("User-Agent", userAgent)
	h.Set("Openai-Intent", "conversation-panel")
	h.Set("X-GitHub-Api-Version", apiVersion)
	h.Set("X-Request-Id", uuid.New().String())

	if opts != nil {
		if opts.Vision {
			h.Set("Copilot-Vision-Request", "true")
		}
		initiator := "user"
		if opts.Agent {
			initiator = "agent"
		}
		h.Set("X-Initiator", initiator)
	}
}

func upstreamError(status int, body []byte) *domain.APIError {
	return domain.ErrUpstream(fmt.Sprintf("backend returned status %d: %s", status, truncate(body))).
		WithCode(domain.ErrorCodeUpstreamStatus).
		WithStatusCode(status)
}

func truncate(body []byte) string {
	const limit = 512
	s := string(body)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
