package dnsserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/miekg/dns"
)

// DefaultTCPTimeout bounds reads on TCP connections.
const DefaultTCPTimeout = 5 * time.Second

const shutdownTimeout = 5 * time.Second

// Server is a UDP and a TCP dns.Server sharing one address and handler.
type Server struct {
	udp    *dns.Server
	tcp    *dns.Server
	logger *slog.Logger
}

// Listen binds UDP and TCP on addr. Nothing is served until Serve.
func Listen(addr string, handler dns.Handler, tcpTimeout time.Duration, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if tcpTimeout <= 0 {
		tcpTimeout = DefaultTCPTimeout
	}
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dnsserver: listen udp %s: %w", addr, err)
	}
	// An ephemeral port must be the same for both transports.
	tcpAddr := addr
	if udpAddr, ok := pc.LocalAddr().(*net.UDPAddr); ok {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr == nil {
			tcpAddr = net.JoinHostPort(host, fmt.Sprint(udpAddr.Port))
		}
	}
	ln, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("dnsserver: listen tcp %s: %w", tcpAddr, err)
	}
	return &Server{
		udp: &dns.Server{PacketConn: pc, Net: "udp", Handler: handler},
		tcp: &dns.Server{
			Listener:    ln,
			Net:         "tcp",
			Handler:     handler,
			ReadTimeout: tcpTimeout,
			IdleTimeout: func() time.Duration { return tcpTimeout },
		},
		logger: logger,
	}, nil
}

// Addr returns the bound address, shared by both transports.
func (s *Server) Addr() net.Addr {
	return s.tcp.Listener.Addr()
}

// Serve runs both servers until ctx is cancelled or either one fails.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)
	started := make(chan struct{}, 2)
	for _, srv := range []*dns.Server{s.udp, s.tcp} {
		srv := srv
		srv.NotifyStartedFunc = func() { started <- struct{}{} }
		go func() {
			errCh <- srv.ActivateAndServe()
		}()
	}

	var serveErr error
	for up := 0; up < 2 && serveErr == nil; {
		select {
		case <-started:
			up++
		case serveErr = <-errCh:
		}
	}
	if serveErr == nil {
		s.logger.Info("dns server started", "addr", s.Addr().String())
		select {
		case <-ctx.Done():
		case serveErr = <-errCh:
		}
	}
	if serveErr != nil {
		s.logger.Error("dns server stopped", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range []*dns.Server{s.udp, s.tcp} {
		srv := srv
		if err := srv.ShutdownContext(shutdownCtx); err != nil {
			s.logger.Warn("dns server shutdown", "net", srv.Net, "error", err)
		}
	}
	if serveErr != nil {
		return fmt.Errorf("dnsserver: %w", serveErr)
	}
	return nil
}

// ListenAndServe binds addr on UDP and TCP and serves handler until ctx ends.
func ListenAndServe(ctx context.Context, addr string, handler dns.Handler, tcpTimeout time.Duration, logger *slog.Logger) error {
	s, err := Listen(addr, handler, tcpTimeout, logger)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}
