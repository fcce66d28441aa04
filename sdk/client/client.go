// Package client is a Go client for the oncebox HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned by Receive when the message never existed, was
// already read, or expired.
var ErrNotFound = errors.New("message not found or already read")

// Client is a minimal HTTP client for the message API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client with a default HTTP timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SendRequest mirrors the create payload. A zero TTLSeconds lets the server
// apply its default.
type SendRequest struct {
	Ciphertext string `json:"ciphertext"`
	TTLSeconds int64  `json:"ttlSeconds,omitempty"`
}

// Created is the capability returned by the server.
type Created struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Envelope is the stored message.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	CreatedAt  int64  `json:"createdAt"`
}

// StatusError carries a non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// Send stores a ciphertext and returns its capability.
func (c *Client) Send(ctx context.Context, req SendRequest) (*Created, error) {
	if req.Ciphertext == "" {
		return nil, fmt.Errorf("ciphertext required")
	}
	var out Created
	if err := c.doJSON(ctx, http.MethodPost, "/msg", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Receive consumes a message. It is never retried: a lost response means the
// message is gone.
func (c *Client) Receive(ctx context.Context, id, token string) (*Envelope, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("id and token required")
	}
	path := "/msg/" + url.PathEscape(id) + "?token=" + url.QueryEscape(token)
	var out Envelope
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// Health reports whether the server can reach its store.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	return base + path
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(resp)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	return msg
}
