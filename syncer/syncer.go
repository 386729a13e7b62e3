// Copyright 2024-2026 George (earentir) Pantazis (https://earentir.dev)
// SPDX-License-Identifier: GPL-2.0-only

// Package syncer periodically rebuilds the zone from the hypervisor inventory
// and the DHCP lease table.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"pvedns/daemon"
	"pvedns/host"
	"pvedns/metrics"
	"pvedns/zone"
)

const (
	DefaultInterval       = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Inventory lists guests with their interface configs.
type Inventory interface {
	VirtualMachines(ctx context.Context) ([]host.Guest, error)
	Containers(ctx context.Context) ([]host.Guest, error)
}

// LeaseSource returns the DHCP lease table.
type LeaseSource interface {
	Leases(ctx context.Context) ([]host.Lease, error)
}

// Persister stores a published snapshot.
type Persister interface {
	Save(snap *zone.Snapshot) error
}

// Config wires a Syncer. Inventory, Leases, Builder and Store are required.
type Config struct {
	Inventory      Inventory
	Leases         LeaseSource
	Builder        *zone.Builder
	Store          *zone.Store
	Persister      Persister
	State          *daemon.State
	Metrics        metrics.Client
	Logger         *slog.Logger
	Interval       time.Duration
	RequestTimeout time.Duration
}

// Status describes the most recent cycles.
type Status struct {
	LastAttempt time.Time `json:"last_attempt"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Cycles      uint64    `json:"cycles"`
	Failures    uint64    `json:"failures"`
	Hosts       int       `json:"hosts"`
	Records     int       `json:"records"`
	GuestErrors int       `json:"guest_errors"`
}

// Syncer runs sync cycles, one at a time.
type Syncer struct {
	cfg     Config
	trigger chan struct{}
	cycleMu sync.Mutex

	statusMu sync.RWMutex
	status   Status
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Syncer, error) {
	var result *multierror.Error
	if cfg.Inventory == nil {
		result = multierror.Append(result, errors.New("inventory source is required"))
	}
	if cfg.Leases == nil {
		result = multierror.Append(result, errors.New("lease source is required"))
	}
	if cfg.Builder == nil {
		result = multierror.Append(result, errors.New("zone builder is required"))
	}
	if cfg.Store == nil {
		result = multierror.Append(result, errors.New("zone store is required"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("syncer: %w", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Syncer{cfg: cfg, trigger: make(chan struct{}, 1)}, nil
}

// Trigger asks Run for an immediate cycle. Triggers that arrive while a cycle
// is pending collapse into one.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Status returns a copy of the current status.
func (s *Syncer) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Run performs a cycle immediately and then on every tick or trigger until
// ctx is cancelled. Failed cycles are logged and leave the zone unchanged.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.cycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-s.trigger:
		}
	}
}

func (s *Syncer) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.RunOnce(ctx); err != nil {
		s.cfg.Logger.Error("update error", "error", err)
		return
	}
	st := s.Status()
	s.cfg.Logger.Info("updated zone", "hosts", st.Hosts, "records", st.Records, "guest_errors", st.GuestErrors)
}

// RunOnce fetches guests and leases, resolves hosts, builds a snapshot and
// publishes it. If any fetch fails the store is left untouched and the
// aggregated error is returned.
func (s *Syncer) RunOnce(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := time.Now()
	snap, guestErrs, err := s.build(ctx)
	s.cfg.Metrics.ObserveSync(time.Since(start), err)

	s.statusMu.Lock()
	s.status.LastAttempt = start
	s.status.Cycles++
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
		s.statusMu.Unlock()
		return err
	}
	s.statusMu.Unlock()

	s.cfg.Store.ReplaceAll(snap)
	now := time.Now()
	s.statusMu.Lock()
	s.status.LastSuccess = now
	s.status.LastError = ""
	s.status.Hosts = snap.Hosts()
	s.status.Records = snap.Len()
	s.status.GuestErrors = guestErrs
	s.statusMu.Unlock()

	s.cfg.Metrics.UpdateZone(snap.Hosts(), snap.Len())
	if s.cfg.State != nil {
		s.cfg.State.MarkSynced(now)
	}
	if s.cfg.Persister != nil {
		if err := s.cfg.Persister.Save(snap); err != nil {
			s.cfg.Logger.Warn("persist zone failed", "error", err)
		}
	}
	return nil
}

// build fetches and resolves everything and returns the new snapshot with the
// number of guests left out because they could not be resolved.
func (s *Syncer) build(ctx context.Context) (*zone.Snapshot, int, error) {
	var (
		vms, cts       []host.Guest
		leases         []host.Lease
		vmErr, ctErr   error
		leaseErr       error
		g              errgroup.Group
		requestTimeout = s.cfg.RequestTimeout
	)
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		vms, vmErr = s.cfg.Inventory.VirtualMachines(fctx)
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		cts, ctErr = s.cfg.Inventory.Containers(fctx)
		return nil
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		leases, leaseErr = s.cfg.Leases.Leases(fctx)
		return nil
	})
	_ = g.Wait()

	var result *multierror.Error
	if vmErr != nil {
		result = multierror.Append(result, fmt.Errorf("fetch vms: %w", vmErr))
	}
	if ctErr != nil {
		result = multierror.Append(result, fmt.Errorf("fetch containers: %w", ctErr))
	}
	if leaseErr != nil {
		result = multierror.Append(result, fmt.Errorf("fetch leases: %w", leaseErr))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, 0, err
	}

	guests := make([]host.Guest, 0, len(vms)+len(cts))
	guests = append(guests, vms...)
	guests = append(guests, cts...)
	// Per-guest problems are logged by ResolveAll and never fail the cycle.
	hosts, err := host.ResolveAll(guests, leases, s.cfg.Logger)
	guestErrs := 0
	var merr *multierror.Error
	if errors.As(err, &merr) {
		guestErrs = merr.Len()
	}
	return s.cfg.Builder.Build(hosts), guestErrs, nil
}
