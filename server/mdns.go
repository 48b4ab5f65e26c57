package server

import (
	"fmt"
	"net"

	"github.com/grandcat/zeroconf"

	"github.com/dotside-studios/closet-nfc/buildinfo"
)

const mdnsDomain = "local."

// mdnsText is advertised with the service so a scanning page knows where to connect.
func mdnsText(secure bool) []string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	return []string{
		"version=" + buildinfo.Version,
		"scheme=" + scheme,
		"path=/ws",
		"device_mode=?mode=device",
		"ca=/ca.pem",
	}
}

func (s *Server) startMDNS(addr net.Addr) error {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return fmt.Errorf("unexpected listener address %s", addr)
	}
	server, err := zeroconf.Register(buildinfo.DisplayName, buildinfo.MDNSService, mdnsDomain, tcp.Port, mdnsText(s.config.TLS != nil), nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.mdnsServer = server
	s.logger.Printf("mDNS service registered: %s %s on port %d", buildinfo.DisplayName, buildinfo.MDNSService, tcp.Port)
	return nil
}

func (s *Server) stopMDNS() {
	if s.mdnsServer == nil {
		return
	}
	s.mdnsServer.Shutdown()
	s.mdnsServer = nil
	s.logger.Printf("mDNS service stopped")
}
