// Package integrations wraps the third-party APIs the storefront calls:
// transcription, video rooms, stock images and video search.
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"storefront/api/internal/retry"
)

var (
	ErrNotConfigured = errors.New("integration is not configured")
	ErrUpstream      = errors.New("upstream request failed")
)

// StatusError is a non-2xx answer from an upstream API.
type StatusError struct {
	Service string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// client issues JSON requests with a per-call timeout. 429, 5xx and network
// errors are retried; any other failure is returned as is.
type client struct {
	service string
	http    *http.Client
	timeout time.Duration
	policy  retry.Policy
	header  func(*http.Request)
}

func newClient(service string, header func(*http.Request)) *client {
	return &client{
		service: service,
		http:    &http.Client{},
		timeout: 10 * time.Second,
		policy:  retry.DefaultPolicy(),
		header:  header,
	}
}

func (c *client) getJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

func (c *client) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", c.service, err)
	}
	return c.do(ctx, http.MethodPost, url, body, out)
}

func (c *client) do(ctx context.Context, method, url string, body []byte, out any) error {
	_, err := retry.Do(ctx, c.policy, func() (struct{}, error) {
		return struct{}{}, c.once(ctx, method, url, body, out)
	})
	return err
}

func (c *client) once(ctx context.Context, method, url string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: build request: %w", c.service, err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.header != nil {
		c.header(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", c.service, err)
		}
		return retry.Permanent(fmt.Errorf("%s: %w", c.service, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := &StatusError{Service: c.service, Status: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusErr
		}
		return retry.Permanent(statusErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("%s: decode response: %w", c.service, err))
	}
	return nil
}
