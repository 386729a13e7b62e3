// Copyright 2024-2026 George (earentir) Pantazis (https://earentir.dev)
// SPDX-License-Identifier: GPL-2.0-only

// Package dnsserver answers queries for the synchronized zone.
package dnsserver

import (
	"io"
	"log/slog"
	"net"

	"github.com/miekg/dns"

	"pvedns/logger"
	"pvedns/metrics"
	"pvedns/zone"
)

// Config wires a Handler. Store is required.
type Config struct {
	Store   *zone.Store
	Logger  *slog.Logger
	Queue   *logger.AsyncLogQueue
	Metrics metrics.Client
}

// Handler is an authoritative dns.Handler over a zone.Store.
type Handler struct {
	store   *zone.Store
	logger  *slog.Logger
	queue   *logger.AsyncLogQueue
	metrics metrics.Client
}

// New returns a Handler for cfg.
func New(cfg Config) *Handler {
	h := &Handler{store: cfg.Store, logger: cfg.Logger, queue: cfg.Queue, metrics: cfg.Metrics}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if h.metrics == nil {
		h.metrics = metrics.Noop{}
	}
	return h
}

// ServeDNS answers from one snapshot of the store. Names outside the zone,
// zone transfers and non-IN classes are refused.
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := h.answer(r)
	if opt := r.IsEdns0(); opt != nil {
		m.SetEdns0(opt.UDPSize(), false)
	}
	if _, isUDP := w.LocalAddr().(*net.UDPAddr); isUDP {
		size := dns.MinMsgSize
		if opt := r.IsEdns0(); opt != nil && int(opt.UDPSize()) > size {
			size = int(opt.UDPSize())
		}
		m.Truncate(size)
	}
	if err := w.WriteMsg(m); err != nil {
		h.logger.Error("write response", "client", w.RemoteAddr().String(), "error", err)
	}
	h.record(w.RemoteAddr(), r, m)
}

func (h *Handler) answer(r *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	if r.Opcode != dns.OpcodeQuery {
		return m.SetRcode(r, dns.RcodeNotImplemented)
	}
	if len(r.Question) != 1 {
		return m.SetRcode(r, dns.RcodeFormatError)
	}
	m.SetReply(r)
	q := r.Question[0]

	snap := h.store.Snapshot()
	switch {
	case q.Qclass != dns.ClassINET && q.Qclass != dns.ClassANY,
		q.Qtype == dns.TypeAXFR, q.Qtype == dns.TypeIXFR,
		!snap.InZone(q.Name):
		m.Rcode = dns.RcodeRefused
		return m
	}

	m.Authoritative = true
	rrs, exists := snap.Lookup(q.Name, q.Qtype)
	switch {
	case !exists:
		m.Rcode = dns.RcodeNameError
		m.Ns = soaAuthority(snap)
	case len(rrs) == 0:
		m.Ns = soaAuthority(snap)
	default:
		m.Answer = append(m.Answer, rrs...)
	}
	return m
}

func soaAuthority(snap *zone.Snapshot) []dns.RR {
	if soa := snap.SOA(); soa != nil {
		return []dns.RR{soa}
	}
	return nil
}

// record updates metrics inline and hands query logging to the async queue.
func (h *Handler) record(client net.Addr, r, m *dns.Msg) {
	qname, qtype := "", "NONE"
	if len(r.Question) > 0 {
		qname = r.Question[0].Name
		qtype = dns.TypeToString[r.Question[0].Qtype]
	}
	rcode := dns.RcodeToString[m.Rcode]
	h.metrics.ObserveQuery(qtype, rcode)

	answers := len(m.Answer)
	from := ""
	if client != nil {
		from = client.String()
	}
	log := func() {
		h.logger.Debug("query", "client", from, "name", qname, "type", qtype, "rcode", rcode, "answers", answers)
	}
	if h.queue != nil {
		h.queue.Enqueue(log)
		return
	}
	log()
}
