// Package vpic is a client for the NHTSA vPIC vehicle decoding API.
package vpic

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
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL   = "https://vpic.nhtsa.dot.gov/api"
	defaultUserAgent = "vin-resolver/1.0"
	maxBodyBytes     = 1 << 20
)

// Client decodes VINs through vPIC.
type Client interface {
	// Decode returns the first DecodeVinValuesExtended row for vin, or nil
	// when vPIC returned no rows.
	Decode(ctx context.Context, vin string) (map[string]any, error)
}

// StatusError is returned for any non-200 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vpic: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// decodeResponse is the envelope of DecodeVinValuesExtended.
type decodeResponse struct {
	Count          int              `json:"Count"`
	Message        string           `json:"Message"`
	SearchCriteria string           `json:"SearchCriteria"`
	Results        []map[string]any `json:"Results"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

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

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
}

// NewClient creates a vPIC client. vPIC is public and needs no key.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Decode(ctx context.Context, vin string) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "vpic: rate limit wait")
	}

	endpoint := fmt.Sprintf("%s/vehicles/DecodeVinValuesExtended/%s?format=json", c.baseURL, url.PathEscape(vin))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "vpic: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "vpic: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "vpic: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var result decodeResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return nil, eris.Wrap(err, "vpic: decode response")
	}

	if len(result.Results) == 0 {
		return nil, nil
	}
	return result.Results[0], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
