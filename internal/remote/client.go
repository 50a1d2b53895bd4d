// Package remote is the HTTP collaborator behind the asset fetcher and the
// GitHub client: given a URL it returns decoded JSON or image bytes, or a
// classified failure.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/starford/octoscope/internal/apperr"
)

const (
	maxJSONBytes  = 10 << 20 // 10 MB
	maxImageBytes = 10 << 20 // 10 MB
)

// Config tunes the client. Zero values fall back to defaults.
type Config struct {
	// Timeout bounds each attempt.
	Timeout time.Duration
	// RetryMax is the number of extra attempts after a transport failure.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	// Header is added to JSON requests only (API credentials stay off image hosts).
	Header http.Header
	Logger *slog.Logger
}

// Client performs GET requests with bounded retry on transport errors.
type Client struct {
	http      *retryablehttp.Client
	userAgent string
	header    http.Header
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 200 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 2 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "octoscope"
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.CheckRetry = retryTransportOnly
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if cfg.Logger != nil {
		rc.Logger = cfg.Logger
	}

	return &Client{
		http:      rc,
		userAgent: cfg.UserAgent,
		header:    cfg.Header.Clone(),
	}
}

// retryTransportOnly retries when no response arrived at all. Any HTTP
// status, including 5xx, is final.
func retryTransportOnly(ctx context.Context, _ *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}

// GetJSON fetches url and parses the body as JSON.
func (c *Client) GetJSON(ctx context.Context, url string) (gjson.Result, error) {
	const op = "get json"
	resp, err := c.get(ctx, url, "application/json", c.header)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, apperr.HTTPStatus(op+" "+url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONBytes))
	if err != nil {
		return gjson.Result{}, classify(op, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, apperr.Decode(op+" "+url, errors.New("invalid json body"))
	}
	return gjson.ParseBytes(body), nil
}

// GetImage fetches url and returns the raw bytes with their media type.
// Only 200 responses with an image/* content type are accepted.
func (c *Client) GetImage(ctx context.Context, url string) ([]byte, string, error) {
	const op = "get image"
	resp, err := c.get(ctx, url, "image/*", nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", apperr.HTTPStatus(op+" "+url, resp.StatusCode)
	}
	mediaType, _, perr := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if perr != nil || !strings.HasPrefix(mediaType, "image/") {
		return nil, "", apperr.Decode(op+" "+url, fmt.Errorf("content type %q is not an image", resp.Header.Get("Content-Type")))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, "", classify(op, err)
	}
	if len(body) > maxImageBytes {
		return nil, "", apperr.Decode(op+" "+url, fmt.Errorf("image exceeds %d bytes", maxImageBytes))
	}
	return body, mediaType, nil
}

func (c *Client) get(ctx context.Context, url, accept string, extra http.Header) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Network("build request", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)
	for k, vs := range extra {
		req.Header[k] = append([]string(nil), vs...)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, classify("get "+url, err)
	}
	return resp, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Timeout(op, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return apperr.Timeout(op, err)
	}
	return apperr.Network(op, err)
}
