package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/schoolbus-labs/busreserve/internal/model"
)

// Client is a thin wrapper over the busreserve HTTP API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http status %s: %s", e.Status, e.Message)
	}
	return "http status " + e.Status
}

// New creates an API client. token is an optional admin bearer token.
func New(rawURL, token string, timeout time.Duration) (*Client, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("base url must include scheme")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return &Client{
		baseURL: parsed,
		token:   token,
		http: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Status fetches the aggregate reservation gate.
func (c *Client) Status(ctx context.Context) (model.GateView, error) {
	var view model.GateView
	err := c.do(ctx, http.MethodGet, "/api/reservation/status", nil, &view)
	return view, err
}

// Routes lists every route.
func (c *Client) Routes(ctx context.Context) ([]*model.Route, error) {
	var payload struct {
		Routes []*model.Route `json:"routes"`
		Count  int            `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/routes", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Routes, nil
}

// VAPIDPublicKey returns the server's application server key.
func (c *Client) VAPIDPublicKey(ctx context.Context) (string, error) {
	var payload struct {
		PublicKey string `json:"publicKey"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/push/vapid-public-key", nil, &payload); err != nil {
		return "", err
	}
	if payload.PublicKey == "" {
		return "", fmt.Errorf("empty vapid public key")
	}
	return payload.PublicKey, nil
}

// Subscribe registers a push channel for studentID.
func (c *Client) Subscribe(ctx context.Context, studentID string, channel model.Channel, device model.DeviceClass) error {
	return c.do(ctx, http.MethodPost, "/api/push/subscribe", map[string]any{
		"student_id":   studentID,
		"subscription": channel,
		"device_type":  device,
	}, nil)
}

// Unsubscribe removes the push channel of studentID.
func (c *Client) Unsubscribe(ctx context.Context, studentID string) error {
	return c.do(ctx, http.MethodPost, "/api/push/unsubscribe", map[string]string{
		"student_id": studentID,
	}, nil)
}

func (c *Client) do(ctx context.Context, method, p string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(p), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var problem struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&problem)
		return &StatusError{Code: resp.StatusCode, Status: resp.Status, Message: problem.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) resolve(p string) string {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, p)
	return u.String()
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// BaseURL returns the configured server URL without trailing slash.
func (c *Client) BaseURL() string {
	return strings.TrimRight(c.baseURL.String(), "/")
}
