package veo

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
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 64 << 20 // inline video bytes can be large
)

// Config configures the Generative Language API client.
type Config struct {
	BaseURL   string
	APIKey    string
	ProjectID string
	Timeout   time.Duration
	UserAgent string
}

// Client talks to the predictLongRunning and operations endpoints.
type Client struct {
	baseURL   string
	apiKey    string
	projectID string
	ua        string
	http      *http.Client
}

// NewClient creates a new Veo client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		projectID: cfg.ProjectID,
		ua:        cfg.UserAgent,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Submit starts a generation job and returns the operation name.
func (c *Client) Submit(ctx context.Context, model string, body PredictRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", &RequestError{Kind: KindRequest, Err: err}
	}

	endpoint := c.endpoint("models/" + model + ":predictLongRunning")
	data, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return "", err
	}

	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(op.Name) == "" {
		return "", ErrMissingOperationName
	}
	return op.Name, nil
}

// GetOperation fetches the current state of an operation.
func (c *Client) GetOperation(ctx context.Context, name string) (*Operation, error) {
	data, err := c.do(ctx, http.MethodGet, c.endpoint(strings.TrimLeft(name, "/")), nil)
	if err != nil {
		return nil, err
	}

	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &op, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + "/" + path + "?" + url.Values{"key": {c.apiKey}}.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &RequestError{Kind: KindRequest, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	if c.projectID != "" {
		req.Header.Set("x-goog-user-project", c.projectID)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if readErr != nil {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("<failed to read body: %v>", readErr)}
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if readErr != nil {
		return nil, classifyRequestError(ctx, readErr)
	}

	return data, nil
}
