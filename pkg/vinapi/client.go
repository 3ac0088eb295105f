// Package vinapi is a client for self-hosted VIN decoders exposing
// GET {base}/decode?vin=.
package vinapi

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

	"github.com/rotisserie/eris"
)

const maxBodyBytes = 1 << 20

// Client decodes VINs through a custom decoder service.
type Client interface {
	// Decode returns the decoder's field row for vin, or nil when the
	// decoder reports no match.
	Decode(ctx context.Context, vin string) (map[string]any, error)
}

// StatusError is returned for non-success responses other than 404.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vinapi: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// Option configures the client.
type Option func(*httpClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
}

// NewClient creates a decoder client for baseURL. apiKey is sent as a
// bearer token when non-empty.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Decode(ctx context.Context, vin string) (map[string]any, error) {
	endpoint := c.baseURL + "/decode?vin=" + url.QueryEscape(vin)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "vinapi: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "vinapi: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "vinapi: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg := string(body)
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: msg}
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, eris.Wrap(err, "vinapi: decode response")
	}
	return unwrapRow(payload), nil
}

// unwrapRow accepts a bare field object, a {"data": {...}} wrapper, or a
// vPIC-shaped {"Results": [...]} mirror.
func unwrapRow(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	if data, ok := payload["data"].(map[string]any); ok {
		return data
	}
	if results, ok := payload["Results"].([]any); ok {
		if len(results) == 0 {
			return nil
		}
		row, _ := results[0].(map[string]any)
		return row
	}
	if len(payload) == 0 {
		return nil
	}
	return payload
}
