// Package server exposes the NFC sessions and the closet catalog over HTTP,
// and accepts Web NFC devices on a WebSocket.
package server

import (
	"context"
	cryptotls "crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/closet-nfc/buildinfo"
	"github.com/dotside-studios/closet-nfc/closet"
	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/nfc/webnfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

// Sessions runs NFC sessions. *nfc.Coordinator implements it.
type Sessions interface {
	Supported(ctx context.Context) error
	Reading() bool
	Writing() bool
	Busy() bool
	TryRead(ctx context.Context, opts nfc.ReadOptions) (nfc.ScanOutcome, error)
	TryWrite(ctx context.Context, value string) (nfc.WriteOutcome, error)
	// Continuous runs read sessions back to back until ctx is done.
	Continuous(ctx context.Context, opts nfc.ReadOptions, onOutcome func(nfc.ScanOutcome)) error
	Cancel() bool
}

// Catalog is the part of *closet.Catalog the API serves.
type Catalog interface {
	FindEntityByTag(ctx context.Context, tagID string) (*closet.Association, error)
	RemoveEntityNFCTag(ctx context.Context, entityType nfc.EntityType, entityID string) (bool, error)
	BindEntityNFCTag(ctx context.Context, ref nfc.EntityRef, tagID string) (*closet.Association, error)
	BatchLookup(ctx context.Context, input string) (*closet.LookupResult, error)
	AssignToBox(ctx context.Context, boxID string, garmentIDs []string) (*closet.Assignment, error)
	RecommendedBoxes(ctx context.Context, limit int) ([]closet.Box, error)
	MostEmptyBox(ctx context.Context) (*closet.Box, error)
	Boxes(ctx context.Context) ([]closet.Box, error)
	CreateBox(ctx context.Context, in closet.BoxInput) (*closet.Box, error)
	UpdateBox(ctx context.Context, id string, in closet.BoxInput) (*closet.Box, error)
	DeleteBox(ctx context.Context, id string) error
}

// Config holds the server's collaborators. Metrics, CA and TLS are optional.
type Config struct {
	Addr     string
	Sessions Sessions
	Catalog  Catalog
	// Devices accepts Web NFC devices on /ws. Nil disables the socket.
	Devices *webnfc.Manager

	Metrics http.Handler
	CA      http.Handler
	TLS     *cryptotls.Config

	MDNS           bool
	AllowedOrigins []string
	Logger         *log.Logger
}

// Server is the agent's HTTP and WebSocket front end.
type Server struct {
	config     Config
	logger     *log.Logger
	devices    *webnfc.Handler
	handler    http.Handler
	httpServer *http.Server
	mdnsServer *zeroconf.Server
}

func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}
	s := &Server{config: config, logger: config.Logger}
	if config.Devices != nil {
		info := protocol.ServerInfo{Name: buildinfo.DisplayName, Version: buildinfo.Version}
		s.devices = webnfc.NewHandler(config.Devices, info, s.checkOrigin)
	}
	s.handler = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	scheme := "http"
	if s.config.TLS != nil {
		ln = cryptotls.NewListener(ln, s.config.TLS)
		scheme = "https"
	}

	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         s.config.TLS,
		ErrorLog:          s.logger,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()
	s.logger.Printf("Listening on %s://%s", scheme, ln.Addr())

	if s.config.MDNS {
		if err := s.startMDNS(ln.Addr()); err != nil {
			s.logger.Printf("Warning: mDNS unavailable, devices must be pointed at the agent manually: %v", err)
		}
	}

	select {
	case err := <-errCh:
		s.stopMDNS()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.stopMDNS()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Printf("Server stopped")
	return nil
}
