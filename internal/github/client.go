// Package github is a minimal client for the GitHub REST endpoints the
// search and profile screens consume.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/starford/octoscope/internal/apperr"
	"github.com/starford/octoscope/internal/record"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.github.com"

// JSONGetter is the transport the client needs. *remote.Client satisfies it.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string) (gjson.Result, error)
}

// Client issues user search, user detail and repository list requests.
type Client struct {
	base   string
	origin *url.URL
	getter JSONGetter
}

// NewClient returns a client rooted at baseURL (DefaultBaseURL when empty).
func NewClient(baseURL string, getter JSONGetter) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base := strings.TrimRight(baseURL, "/")
	origin, err := url.Parse(base)
	if err != nil {
		origin = &url.URL{}
	}
	return &Client{base: base, origin: origin, getter: getter}
}

// sameOrigin refuses record URLs that point anywhere but the API host, so
// the credentials carried by the getter never leave it.
func (c *Client) sameOrigin(op, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperr.Config(op, fmt.Errorf("invalid url: %w", err))
	}
	if u.Host == "" || !strings.EqualFold(u.Scheme, c.origin.Scheme) || !strings.EqualFold(u.Host, c.origin.Host) {
		return apperr.Config(op, errors.New("url is not on the api host "+c.origin.Host))
	}
	return nil
}

// Headers returns the request headers for API calls, adding the bearer
// token only when one is configured.
func Headers(token string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// SearchUsers runs GET /search/users?q={term} and returns the items.
func (c *Client) SearchUsers(ctx context.Context, term string) (record.Set, error) {
	u := c.base + "/search/users?q=" + url.QueryEscape(term)
	res, err := c.getter.GetJSON(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("github: search users %q: %w", term, err)
	}
	items := res.Get("items")
	if !items.Exists() {
		return nil, apperr.Decode("github: search users", fmt.Errorf("response has no items"))
	}
	set, err := record.ParseSet(items)
	if err != nil {
		return nil, fmt.Errorf("github: search users: %w", err)
	}
	return set, nil
}

// User fetches a single user record from its API url, which must live on
// the API host.
func (c *Client) User(ctx context.Context, userURL string) (record.Record, error) {
	if err := c.sameOrigin("github: user", userURL); err != nil {
		return record.Record{}, err
	}
	res, err := c.getter.GetJSON(ctx, userURL)
	if err != nil {
		return record.Record{}, fmt.Errorf("github: user: %w", err)
	}
	r, err := record.New(res)
	if err != nil {
		return record.Record{}, fmt.Errorf("github: user: %w", err)
	}
	return r, nil
}

// Repos fetches the repository list at reposURL.
func (c *Client) Repos(ctx context.Context, reposURL string) (record.Set, error) {
	if err := c.sameOrigin("github: repos", reposURL); err != nil {
		return nil, err
	}
	res, err := c.getter.GetJSON(ctx, reposURL)
	if err != nil {
		return nil, fmt.Errorf("github: repos: %w", err)
	}
	set, err := record.ParseSet(res)
	if err != nil {
		return nil, fmt.Errorf("github: repos: %w", err)
	}
	return set, nil
}
