// Package httpdoc talks to a document API over HTTP: Client is a remote.Store, Server exposes one.
package httpdoc

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

	"github.com/bartek5186/posync/internal/remote"
	"github.com/rs/zerolog"
)

const HeaderAPIKey = "X-API-Key"

type Config struct {
	BaseURL        string `json:"base_url"` // http://host:8090
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type Client struct {
	log  zerolog.Logger
	cfg  Config
	base *url.URL
	http *http.Client
}

func NewClient(log zerolog.Logger, cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("httpdoc: invalid base_url %q", cfg.BaseURL)
	}
	sec := cfg.TimeoutSeconds
	if sec <= 0 {
		sec = 15
	}
	return &Client{
		log:  log,
		cfg:  cfg,
		base: base,
		http: &http.Client{Timeout: time.Duration(sec) * time.Second},
	}, nil
}

func (c *Client) Name() string { return "http" }

type idResponse struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Client) Upsert(ctx context.Context, collection, id string, body json.RawMessage) (string, error) {
	method, path := http.MethodPut, docPath(collection, id)
	if id == "" {
		method, path = http.MethodPost, docPath(collection)
	}
	resp, err := c.do(ctx, method, path, nil, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusErr(method, path, resp)
	}
	var out idResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	if out.ID == "" {
		out.ID = id
	}
	return out.ID, nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	path := docPath(collection, id)
	resp, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	}
	return statusErr(http.MethodDelete, path, resp)
}

func (c *Client) QueryUpdatedSince(ctx context.Context, collection string, since time.Time) ([]remote.Document, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	path := docPath(collection)
	resp, err := c.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(http.MethodGet, path, resp)
	}
	var docs []remote.Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return docs, nil
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: healthz http %d", remote.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Response, error) {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = q.Encode()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "posync/1.0")
	if c.cfg.APIKey != "" {
		req.Header.Set(HeaderAPIKey, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", remote.ErrUnavailable, method, path, err)
	}
	return resp, nil
}

// escapowanie robi url.URL.String()
func docPath(parts ...string) string {
	return "/v1/" + strings.Join(parts, "/")
}

func statusErr(method, path string, resp *http.Response) error {
	var e struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
	err := fmt.Errorf("%s %s: http %d %s", method, path, resp.StatusCode, e.Error)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errors.Join(remote.ErrUnavailable, err)
	}
	return err
}

func factory(log zerolog.Logger, raw json.RawMessage) (remote.Store, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	return NewClient(log, cfg)
}

func init() {
	remote.Register("http", factory)
}
