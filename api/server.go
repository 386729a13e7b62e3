// Package api serves the read-only status API and the manual sync trigger.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/miekg/dns"

	"pvedns/daemon"
	"pvedns/syncer"
	"pvedns/zone"
)

const shutdownTimeout = 5 * time.Second

// SyncController is the part of the sync loop the API exposes.
type SyncController interface {
	Status() syncer.Status
	Trigger()
}

// Deps are the components the routes read from.
type Deps struct {
	State   *daemon.State
	Store   *zone.Store
	Sync    SyncController
	Metrics http.Handler
	Logger  *slog.Logger
}

// RouteRegistrar registers HTTP routes on the supplied Gin engine.
type RouteRegistrar func(*gin.Engine)

// Routes returns the registrar for the status endpoints backed by deps.
func Routes(deps Deps) RouteRegistrar {
	h := &handlers{deps: deps}
	return func(router *gin.Engine) {
		if router == nil {
			return
		}
		router.GET("/", h.statusPage)
		router.GET("/health", h.health)
		router.GET("/ready", h.ready)
		router.GET("/zone", h.zone)
		router.GET("/zone/:name", h.lookup)
		router.GET("/sync", h.syncStatus)
		router.POST("/sync", h.syncTrigger)
		if deps.Metrics != nil {
			router.GET("/metrics", gin.WrapH(deps.Metrics))
		}
	}
}

// NewRouter builds a gin engine with recovery and the given routes.
func NewRouter(registrar RouteRegistrar) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registrar(router)
	return router
}

// Start runs the API on port until ctx is cancelled and updates the daemon
// state while it is up. If logger is nil, no API messages are logged.
func Start(ctx context.Context, state *daemon.State, port string, registrar RouteRegistrar, logger *slog.Logger) error {
	if state == nil {
		return errors.New("api: missing daemon state")
	}
	trimmed := strings.TrimSpace(port)
	if trimmed == "" {
		return errors.New("api: invalid port")
	}
	if state.APIRunning() {
		logAPIInfo(logger, "API server already running; skipping start")
		return nil
	}

	ln, err := net.Listen("tcp", ":"+trimmed)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           NewRouter(registrar),
		ReadHeaderTimeout: 10 * time.Second,
	}

	state.SetAPIRunning(true)
	defer state.SetAPIRunning(false)
	logAPIInfo(logger, "API server starting", "port", trimmed)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		logAPIError(logger, "API server stopped with error", "error", err)
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logAPIError(logger, "API server shutdown", "error", err)
	}
	return nil
}

func logAPIInfo(logger *slog.Logger, msg string, keyValues ...any) {
	if logger != nil {
		logger.Info(msg, keyValues...)
	}
}

func logAPIError(logger *slog.Logger, msg string, keyValues ...any) {
	if logger != nil {
		logger.Error(msg, keyValues...)
	}
}

type handlers struct {
	deps Deps
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) ready(c *gin.Context) {
	state := h.deps.State
	if state == nil || !state.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "last_sync": state.LastSync(), "restored": state.Restored()})
}

// RecordView is the JSON form of one zone record.
type RecordView struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	TTL   uint32 `json:"ttl"`
	Value string `json:"value"`
}

// NewRecordView renders rr for JSON output.
func NewRecordView(rr dns.RR) RecordView {
	hdr := rr.Header()
	value := strings.TrimPrefix(rr.String(), hdr.String())
	return RecordView{
		Name:  hdr.Name,
		Type:  dns.TypeToString[hdr.Rrtype],
		TTL:   hdr.Ttl,
		Value: strings.TrimSpace(value),
	}
}

func recordViews(rrs []dns.RR) []RecordView {
	out := make([]RecordView, 0, len(rrs))
	for _, rr := range rrs {
		out = append(out, NewRecordView(rr))
	}
	return out
}

func (h *handlers) zone(c *gin.Context) {
	if h.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "zone not available"})
		return
	}
	snap := h.deps.Store.Snapshot()
	resp := gin.H{
		"origin":  snap.Origin(),
		"records": recordViews(snap.Records()),
	}
	if updated := h.deps.Store.UpdatedAt(); !updated.IsZero() {
		resp["updated_at"] = updated
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) lookup(c *gin.Context) {
	if h.deps.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "zone not available"})
		return
	}
	snap := h.deps.Store.Snapshot()
	name := c.Param("name")
	if !snap.InZone(name) {
		name = name + "." + snap.Origin()
	}
	rrs, ok := snap.Lookup(name, dns.TypeANY)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "name not found", "name": zone.CanonicalName(name)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": zone.CanonicalName(name), "records": recordViews(rrs)})
}

func (h *handlers) syncStatus(c *gin.Context) {
	if h.deps.Sync == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync loop not running"})
		return
	}
	c.JSON(http.StatusOK, h.deps.Sync.Status())
}

func (h *handlers) syncTrigger(c *gin.Context) {
	if h.deps.Sync == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync loop not running"})
		return
	}
	h.deps.Sync.Trigger()
	if h.deps.Logger != nil {
		h.deps.Logger.Info("sync triggered", "client", c.ClientIP())
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sync scheduled"})
}
