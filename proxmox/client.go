// Copyright 2024-2026 George (earentir) Pantazis (https://earentir.dev)
// SPDX-License-Identifier: GPL-2.0-only

// Package proxmox is a read-only client for the guest inventory of one
// Proxmox VE node.
package proxmox

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	apiPrefix      = "/api2/json/"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
)

// Config holds the connection settings for New.
type Config struct {
	URL                string
	Username           string
	TokenID            string
	Node               string
	InsecureSkipVerify bool
	Timeout            time.Duration
	Logger             *slog.Logger
}

// Client talks to the Proxmox API with an API token.
type Client struct {
	base   *url.URL
	auth   string
	node   string
	http   *http.Client
	logger *slog.Logger
}

// APIError is a non-2xx response from the API.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("proxmox: %s: status %d: %s", e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

// DecodeError is a response body that could not be decoded.
type DecodeError struct {
	Path string
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("proxmox: %s: decode: %v: %s", e.Path, e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// New validates cfg and returns a client. No request is made.
func New(cfg Config) (*Client, error) {
	base, err := parseBaseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("proxmox: %w", err)
	}
	if strings.TrimSpace(cfg.Node) == "" {
		return nil, errors.New("proxmox: node is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed PVE certificates
	}
	return &Client{
		base:   base,
		auth:   fmt.Sprintf("PVEAPIToken=%s=%s", cfg.Username, cfg.TokenID),
		node:   cfg.Node,
		http:   &http.Client{Timeout: timeout, Transport: transport},
		logger: logger,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: missing host", raw)
	}
	return u, nil
}

// Node returns the node this client queries.
func (c *Client) Node() string { return c.node }

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = apiPrefix + strings.TrimPrefix(path, "/")
	u.RawQuery = ""
	return u.String()
}

// get fetches path and decodes the "data" member of the envelope into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return fmt.Errorf("proxmox: %s: %w", path, err)
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("proxmox: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("proxmox: %s: read body: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &DecodeError{Path: path, Body: string(body), Err: err}
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return &DecodeError{Path: path, Body: string(body), Err: errors.New("missing data")}
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &DecodeError{Path: path, Body: string(body), Err: err}
	}
	return nil
}
