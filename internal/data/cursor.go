package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PromptGate/internal/conf"
	"PromptGate/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/net/proxy"
)

const userAgent = "PromptGate/1.0"

// errorResponse is the upstream API error envelope.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// CursorClient implements biz.CompletionClient against an OpenAI-compatible
// chat completions endpoint. Timeouts, retries, and health decisions are the
// circuit breaker's job; the client performs exactly one attempt per call.
type CursorClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *log.Helper
}

// NewCursorClient creates the upstream completion client. A proxy URL with a
// socks5:// or http(s):// scheme routes all upstream traffic through it.
func NewCursorClient(c *conf.Upstream, logger log.Logger) (*CursorClient, error) {
	transport, err := buildTransport(c.ProxyUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to configure upstream transport: %w", err)
	}

	timeout := c.Timeout.AsDuration()
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &CursorClient{
		baseURL: strings.TrimRight(c.BaseUrl, "/"),
		apiKey:  c.ApiKey,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: log.NewHelper(logger),
	}, nil
}

// CreateCompletion posts one chat completion request and decodes the result.
// Non-2xx responses are returned as *model.UpstreamError carrying the HTTP
// status for categorization.
func (c *CursorClient) CreateCompletion(ctx context.Context, req *model.CompletionRequest) (*model.CompletionResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, upstreamError(resp.StatusCode, body)
	}

	var completion model.CompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("failed to decode completion response: %w", err)
	}

	return &completion, nil
}

// upstreamError builds a categorizable error from a non-2xx response.
func upstreamError(status int, body []byte) error {
	var envelope errorResponse
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}
	if message == "" {
		message = http.StatusText(status)
	}

	return &model.UpstreamError{StatusCode: status, Message: message}
}

// buildTransport builds an HTTP transport honoring the optional proxy URL.
func buildTransport(proxyURL string) (*http.Transport, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	if proxyURL == "" {
		return transport, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
	}

	return transport, nil
}
