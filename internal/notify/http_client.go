package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type HTTPClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HTTPClient talks to the chat-platform gateway. It implements both Notifier
// (POST /notices) and Resolver (GET /groups/{id}).
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("notifier base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

func (c *HTTPClient) Send(ctx context.Context, req SendRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("notifier marshal request: %w", err)
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		deliveryID, err := c.postNotice(ctx, body)
		if err == nil {
			return deliveryID, nil
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return "", &DeliveryError{Err: lastErr}
}

func (c *HTTPClient) postNotice(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/notices", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("notifier build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("notifier rejected notice: %s", resp.Status)
	}
	var payload struct {
		DeliveryID string `json:"deliveryId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("notifier decode response: %w", err)
	}
	if payload.DeliveryID == "" {
		return "", fmt.Errorf("notifier response missing deliveryId")
	}
	return payload.DeliveryID, nil
}

func (c *HTTPClient) Resolve(ctx context.Context, groupID string) (GroupContext, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/groups/"+url.PathEscape(groupID), nil)
	if err != nil {
		return GroupContext{}, fmt.Errorf("resolver build request: %w", err)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return GroupContext{}, fmt.Errorf("resolve group: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return GroupContext{}, ErrContextNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return GroupContext{}, fmt.Errorf("resolve group: %s", resp.Status)
	}
	var gc GroupContext
	if err := json.NewDecoder(resp.Body).Decode(&gc); err != nil {
		return GroupContext{}, fmt.Errorf("resolver decode response: %w", err)
	}
	return gc, nil
}
