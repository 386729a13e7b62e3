package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"pvedns/api"
	"pvedns/config"
	"pvedns/daemon"
	"pvedns/dnsserver"
	"pvedns/logger"
	"pvedns/metrics"
	"pvedns/proxmox"
	"pvedns/routeros"
	"pvedns/syncer"
	"pvedns/zone"
	"pvedns/zonestate"
)

// sources builds the upstream API clients from cfg.
func sources(cfg config.Config, log *slog.Logger) (*proxmox.Client, *routeros.Client, error) {
	pve, err := proxmox.New(proxmox.Config{
		URL:                cfg.PVE.URL,
		Username:           cfg.PVE.Username,
		TokenID:            cfg.PVE.TokenID,
		Node:               cfg.PVE.Node,
		InsecureSkipVerify: cfg.PVE.InsecureSkipVerify,
		Timeout:            cfg.RequestTimeout(),
		Logger:             log,
	})
	if err != nil {
		return nil, nil, err
	}
	ros, err := routeros.New(routeros.Config{
		URL:                cfg.ROS.URL,
		Username:           cfg.ROS.Username,
		Password:           cfg.ROS.Password,
		InsecureSkipVerify: cfg.ROS.InsecureSkipVerify,
		Timeout:            cfg.RequestTimeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	return pve, ros, nil
}

func newBuilder(cfg config.Config, log *slog.Logger) *zone.Builder {
	b := zone.NewBuilder(cfg.Domain, log)
	b.RecordTTL = uint32(cfg.RecordTTL)
	b.SOATTL = uint32(cfg.SOATTL)
	b.CatchAll = cfg.CatchAllName
	return b
}

// openState opens the zone database and seeds store with the last saved zone.
// Failures only disable persistence.
func openState(cfg config.Config, store *zone.Store, state *daemon.State, log *slog.Logger) *zonestate.DB {
	if !cfg.PersistenceEnabled() {
		return nil
	}
	db, err := zonestate.Open(cfg.StateFile)
	if err != nil {
		log.Warn("zone persistence disabled", "path", cfg.StateFile, "error", err)
		return nil
	}
	snap, savedAt, err := db.Load(cfg.Domain)
	switch {
	case errors.Is(err, zonestate.ErrNotFound):
	case err != nil:
		log.Warn("load saved zone", "path", cfg.StateFile, "error", err)
	default:
		store.ReplaceAll(snap)
		state.MarkRestored()
		log.Info("restored saved zone", "records", snap.Len(), "saved_at", savedAt)
	}
	return db
}

// serve runs the daemon until ctx is cancelled. Invalid client settings and
// listener bind failures abort startup.
func serve(ctx context.Context, cfg config.Config) error {
	dnsLog := logger.NewServerLogger(logger.DNSServerLog, cfg.Log.Dir, cfg.Log)
	syncLog := logger.NewServerLogger(logger.SyncLog, cfg.Log.Dir, cfg.Log)
	apiLog := logger.NewServerLogger(logger.APIServerLog, cfg.Log.Dir, cfg.Log)

	pve, ros, err := sources(cfg, syncLog)
	if err != nil {
		return err
	}

	state := daemon.NewState()
	state.UpdateListener(func(l *daemon.ListenerSettings) {
		l.DNSAddr = cfg.DNSAddr()
		l.APIAddr = cfg.APIAddr()
		l.APIEnabled = cfg.APIEnabled
		l.Domain = cfg.Domain
	})

	builder := newBuilder(cfg, syncLog)
	store := zone.NewStore(builder.Empty())
	db := openState(cfg, store, state, syncLog)
	defer db.Close()

	prom := metrics.New()
	queue := logger.NewAsyncLogQueue(0)
	defer func() {
		queue.Close()
		if n := queue.Dropped(); n > 0 {
			dnsLog.Warn("query log entries dropped", "count", n)
		}
	}()

	handler := dnsserver.New(dnsserver.Config{Store: store, Logger: dnsLog, Queue: queue, Metrics: prom})
	srv, err := dnsserver.Listen(cfg.DNSAddr(), handler, dnsserver.DefaultTCPTimeout, dnsLog)
	if err != nil {
		return err
	}

	var persister syncer.Persister
	if db != nil {
		persister = db
	}
	loop, err := syncer.New(syncer.Config{
		Inventory:      pve,
		Leases:         ros,
		Builder:        builder,
		Store:          store,
		Persister:      persister,
		State:          state,
		Metrics:        prom,
		Logger:         syncLog,
		Interval:       cfg.SyncInterval(),
		RequestTimeout: cfg.RequestTimeout(),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	state.SetServerStatus(true)
	g.Go(func() error {
		defer state.SetServerStatus(false)
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		if err := loop.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.APIEnabled {
		g.Go(func() error {
			deps := api.Deps{State: state, Store: store, Sync: loop, Metrics: prom.Handler(), Logger: apiLog}
			if err := api.Start(gctx, state, cfg.RESTPort, api.Routes(deps), apiLog); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}
	syncLog.Info("pvedns started", "version", appversion, "domain", cfg.Domain, "dns", srv.Addr().String())
	return g.Wait()
}
