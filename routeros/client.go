// Package routeros reads DHCP server leases through the RouterOS REST API.
package routeros

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"pvedns/host"
)

const (
	leasePath      = "/rest/ip/dhcp-server/lease"
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 8 << 20
)

// Config holds the connection settings for New.
type Config struct {
	URL                string
	Username           string
	Password           string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Client fetches leases with HTTP basic auth.
type Client struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
}

// StatusError is a non-2xx response from the router.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("routeros: status %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// DecodeError is a lease response that could not be decoded.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("routeros: decode leases: %v: %s", e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// New validates cfg and returns a client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("routeros: invalid url %q: %w", cfg.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("routeros: invalid url %q: want http(s)://host[:port]", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // router self-signed certificate
	}
	return &Client{
		base:     u,
		username: cfg.Username,
		password: cfg.Password,
		http:     &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// lease is one row of /ip/dhcp-server/lease. RouterOS returns every field as
// a string; fields that are unset are omitted.
type lease struct {
	Address          string `json:"address"`
	MACAddress       string `json:"mac-address"`
	ActiveMACAddress string `json:"active-mac-address"`
}

// Leases returns the router's DHCP lease table in router order. Any row whose
// address is not IPv4 or whose MAC does not parse fails the whole call.
func (c *Client) Leases(ctx context.Context) ([]host.Lease, error) {
	u := *c.base
	u.Path = leasePath
	u.RawQuery = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("routeros: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("routeros: get leases: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("routeros: read leases: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var rows []lease
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &DecodeError{Body: string(body), Err: err}
	}
	out := make([]host.Lease, 0, len(rows))
	for i, row := range rows {
		l, err := row.parse()
		if err != nil {
			return nil, &DecodeError{Body: string(body), Err: fmt.Errorf("lease %d: %w", i, err)}
		}
		out = append(out, l)
	}
	return out, nil
}

func (l lease) parse() (host.Lease, error) {
	addr, err := netip.ParseAddr(l.Address)
	if err != nil {
		return host.Lease{}, fmt.Errorf("address: %w", err)
	}
	if !addr.Is4() {
		return host.Lease{}, fmt.Errorf("address %q is not IPv4", l.Address)
	}
	raw := l.ActiveMACAddress
	if raw == "" {
		raw = l.MACAddress
	}
	mac, err := net.ParseMAC(raw)
	if err != nil {
		return host.Lease{}, fmt.Errorf("mac-address: %w", err)
	}
	if len(mac) != 6 {
		return host.Lease{}, fmt.Errorf("mac-address %q is not EUI-48", raw)
	}
	return host.Lease{Address: addr, MAC: mac}, nil
}
