// Package remote is the HTTP client for the remote message service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// maxBody caps how much of a response body is read.
const maxBody = 4 << 20

// ErrUnauthorized is returned when the service rejects the credentials.
var ErrUnauthorized = errors.New("remote: unauthorized")

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Code, e.Body)
}

// Client talks to the remote message service over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client. A zero timeout uses DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// FetchMessages returns up to limit most recent messages of a conversation.
func (c *Client) FetchMessages(ctx context.Context, conversation string, limit int) ([]Message, error) {
	path := "/conversations/" + url.PathEscape(conversation) + "/messages?limit=" + strconv.Itoa(limit)
	body, err := c.do(ctx, "fetch messages", http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeMessages(body), nil
}

// FetchAgent returns the current snapshot of the conversation's agent.
func (c *Client) FetchAgent(ctx context.Context, agentID string) (*Agent, error) {
	body, err := c.do(ctx, "fetch agent", http.MethodGet, "/agents/"+url.PathEscape(agentID), nil, nil)
	if err != nil {
		return nil, err
	}
	a := decodeAgent(body, agentID)
	return &a, nil
}

// SendMessage uploads one message. The idempotency key lets the service
// drop a replay whose first acknowledgement was lost.
func (c *Client) SendMessage(ctx context.Context, conversation string, req SendRequest) (*SendResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode send: %w", err)
	}
	var headers map[string]string
	if req.IdempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": req.IdempotencyKey}
	}
	path := "/conversations/" + url.PathEscape(conversation) + "/messages"
	body, err := c.do(ctx, "send message", http.MethodPost, path, payload, headers)
	if err != nil {
		return nil, err
	}
	res := decodeSendResult(body)
	if res.ID == "" {
		return nil, fmt.Errorf("send message: response carried no id")
	}
	return res, nil
}

// Ping reports whether the service answers at all. Any response below 500
// counts as reachable, including an auth rejection.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &StatusError{Op: "ping", Code: resp.StatusCode}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte, headers map[string]string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	c.logger.Debug("remote call",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%s: %w", op, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
