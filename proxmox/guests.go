package proxmox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"pvedns/host"
)

// configFetchLimit bounds concurrent per-guest config requests.
const configFetchLimit = 8

var netKey = regexp.MustCompile(`^net(\d+)$`)

// vmid accepts both the numeric and the string form the API uses.
type vmid int

func (v *vmid) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("vmid %q: %w", s, err)
		}
		*v = vmid(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("vmid %s: %w", b, err)
	}
	*v = vmid(n)
	return nil
}

type guestEntry struct {
	VMID   vmid   `json:"vmid"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// VirtualMachines lists the node's QEMU guests with their interfaces.
func (c *Client) VirtualMachines(ctx context.Context) ([]host.Guest, error) {
	return c.Guests(ctx, host.KindVM)
}

// Containers lists the node's LXC guests with their interfaces.
func (c *Client) Containers(ctx context.Context) ([]host.Guest, error) {
	return c.Guests(ctx, host.KindContainer)
}

// Guests lists the guests of kind and fetches every guest's config. A failed
// list request fails the call, as does ctx ending before every config is in.
// Any other failed config request is logged and stored in the guest's
// ConfigErr; the guest is still returned.
func (c *Client) Guests(ctx context.Context, kind host.Kind) ([]host.Guest, error) {
	if kind != host.KindVM && kind != host.KindContainer {
		return nil, fmt.Errorf("proxmox: unknown guest kind %q", string(kind))
	}
	var entries []guestEntry
	if err := c.get(ctx, fmt.Sprintf("nodes/%s/%s", c.node, string(kind)), &entries); err != nil {
		return nil, err
	}

	guests := make([]host.Guest, len(entries))
	var g errgroup.Group
	g.SetLimit(configFetchLimit)
	for i, e := range entries {
		i, e := i, e
		guests[i] = host.Guest{ID: int(e.VMID), Name: e.Name, Kind: kind, Status: e.Status}
		g.Go(func() error {
			nets, err := c.guestNets(ctx, kind, int(e.VMID))
			if err != nil {
				c.logger.Error(configLogMessage(kind), "vmid", int(e.VMID), "error", err)
				guests[i].ConfigErr = err
				return nil
			}
			guests[i].Nets = nets
			return nil
		})
	}
	_ = g.Wait()
	// A deadline hit mid fan-out fails the whole listing; only per-guest API
	// errors count as missing config.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("proxmox: %s configs: %w", string(kind), err)
	}

	sort.SliceStable(guests, func(a, b int) bool { return guests[a].ID < guests[b].ID })
	return guests, nil
}

func configLogMessage(kind host.Kind) string {
	if kind == host.KindContainer {
		return "get container config"
	}
	return "get vm config"
}

func (c *Client) guestNets(ctx context.Context, kind host.Kind, id int) (map[int]string, error) {
	var raw map[string]json.RawMessage
	if err := c.get(ctx, fmt.Sprintf("nodes/%s/%s/%d/config", c.node, string(kind), id), &raw); err != nil {
		return nil, err
	}
	return DecodeNets(raw), nil
}

// DecodeNets collects the netN string values of a flat guest config into a
// map keyed by N. Other keys and non-string values are dropped.
func DecodeNets(config map[string]json.RawMessage) map[int]string {
	nets := make(map[int]string)
	for key, value := range config {
		m := netKey.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		var spec string
		if err := json.Unmarshal(value, &spec); err != nil {
			continue
		}
		nets[idx] = spec
	}
	return nets
}
