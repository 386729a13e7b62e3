// Copyright 2024-2026 George (earentir) Pantazis (https://earentir.dev)
// SPDX-License-Identifier: GPL-2.0-only

// Package macspec extracts MAC addresses from Proxmox network interface specs.
//
// Interface specs look like "virtio=AA:BB:CC:DD:EE:FF,bridge=vmbr0" for VMs and
// "name=eth0,hwaddr=AA:BB:CC:DD:EE:FF,bridge=vmbr0" for containers, and the key
// holding the address differs between guest types and PVE versions. Extract does
// not look at keys at all: the leftmost MAC-shaped substring wins.
package macspec

import (
	"errors"
	"fmt"
	"net"
)

const (
	octets    = 6
	macLength = octets*3 - 1 // "XX:XX:XX:XX:XX:XX"
)

// ErrNoMACFound is returned (wrapped in a *ParseError) when a spec contains no MAC.
var ErrNoMACFound = errors.New("no mac address found")

// ParseError reports the spec that could not be parsed.
type ParseError struct {
	Spec string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("macspec: parse %q: %v", e.Spec, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Extract returns the first six-octet colon-separated MAC found in spec.
// Hex digits match case-insensitively. Characters before the match are skipped
// unconditionally and nothing after it is inspected.
func Extract(spec string) (net.HardwareAddr, error) {
	for start := 0; start+macLength <= len(spec); start++ {
		if mac, ok := matchAt(spec, start); ok {
			return mac, nil
		}
	}
	return nil, &ParseError{Spec: spec, Err: ErrNoMACFound}
}

// matchAt tries to read XX:XX:XX:XX:XX:XX at position i.
func matchAt(s string, i int) (net.HardwareAddr, bool) {
	mac := make(net.HardwareAddr, octets)
	for n := 0; n < octets; n++ {
		if n > 0 {
			if s[i] != ':' {
				return nil, false
			}
			i++
		}
		hi, ok := fromHex(s[i])
		if !ok {
			return nil, false
		}
		lo, ok := fromHex(s[i+1])
		if !ok {
			return nil, false
		}
		mac[n] = hi<<4 | lo
		i += 2
	}
	return mac, true
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
