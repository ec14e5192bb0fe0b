// Package nightscout is a small read-only client for the Nightscout REST API
// (v1): device status, SGV entries and careportal treatments.
package nightscout

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultTimeout           = 15 * time.Second
	DefaultRequestsPerMinute = 30
	maxErrorBody             = 512
)

var (
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("nightscout: unauthorized")
	// ErrNoDeviceStatus is returned when the site has no usable loop record.
	ErrNoDeviceStatus = errors.New("nightscout: no device status")
)

// StatusError carries an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("nightscout: http %d: %s", e.Code, e.Body)
}

// Config holds the connection settings for a Nightscout site.
type Config struct {
	// URL is the site root, e.g. https://mysite.herokuapp.com.
	URL string
	// Token is a read token sent as the token query parameter.
	Token string
	// APISecret is sent SHA-1 hashed in the api-secret header.
	APISecret string
	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration
	// RequestsPerMinute paces requests. Zero uses DefaultRequestsPerMinute.
	RequestsPerMinute int
	// HTTPClient overrides the HTTP/2-capable default client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to one Nightscout site.
type Client struct {
	base       *url.URL
	token      string
	secretHash string
	http       *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("nightscout: new client: url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("nightscout: new client: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("nightscout: new client: unsupported scheme %q", base.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc, err = newHTTP2Client(timeout)
		if err != nil {
			return nil, fmt.Errorf("nightscout: new client: %w", err)
		}
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = DefaultRequestsPerMinute
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		base:    base,
		token:   cfg.Token,
		http:    hc,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 4),
		log:     log.With("component", "nightscout"),
	}
	if cfg.APISecret != "" {
		sum := sha1.Sum([]byte(cfg.APISecret))
		c.secretHash = hex.EncodeToString(sum[:])
	}
	return c, nil
}

// newHTTP2Client returns a client that negotiates HTTP/2 over TLS and falls
// back to HTTP/1.1 for plain http sites.
func newHTTP2Client(timeout time.Duration) (*http.Client, error) {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 4
	t.IdleConnTimeout = 90 * time.Second
	if err := http2.ConfigureTransport(t); err != nil {
		return nil, err
	}
	return &http.Client{Transport: t, Timeout: timeout}, nil
}

// BaseURL returns the site root.
func (c *Client) BaseURL() string { return c.base.String() }

// getJSON performs a rate-limited GET of path with query and decodes the
// JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query == nil {
		query = url.Values{}
	}
	if c.token != "" {
		query.Set("token", c.token)
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.secretHash != "" {
		req.Header.Set("api-secret", c.secretHash)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.log.Debug("request", "path", path, "status", resp.StatusCode, "proto", resp.Proto,
		"elapsed", time.Since(start).Round(time.Millisecond))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// DeviceStatus returns the newest count device status records, newest first.
func (c *Client) DeviceStatus(ctx context.Context, count int) ([]RawDeviceStatus, error) {
	if count <= 0 {
		count = 1
	}
	var out []RawDeviceStatus
	q := url.Values{"count": {strconv.Itoa(count)}}
	if err := c.getJSON(ctx, "/api/v1/devicestatus.json", q, &out); err != nil {
		return nil, fmt.Errorf("nightscout: device status: %w", err)
	}
	return out, nil
}

// LatestDeviceStatus fetches and parses the newest device status record.
func (c *Client) LatestDeviceStatus(ctx context.Context, opts ParseOptions) (*DeviceStatus, error) {
	raw, err := c.DeviceStatus(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNoDeviceStatus
	}
	return ParseDeviceStatus(raw[0], opts)
}
