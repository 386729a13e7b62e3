// Copyright 2024-2026 George (earentir) Pantazis (https://earentir.dev)
// SPDX-License-Identifier: GPL-2.0-only

// Command pvedns serves DNS A records for Proxmox guests, addressed by the
// DHCP leases a RouterOS router handed out to their interfaces.
package main

// appversion is overridden at build time with -ldflags "-X main.appversion=...".
var appversion = "0.3.0"

func main() {
	Execute()
}
