// Package mdns advertises the HTTP API on the local network.
package mdns

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType = "_kasa-api._tcp"
	Domain      = "local."
)

var ErrInvalidAddr = errors.New("mdns: invalid listen address")

// registerFunc matches zeroconf.Register so tests can avoid real multicast.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Advertiser owns one registered zeroconf service.
type Advertiser struct {
	instance string
	port     int
	txt      []string
	logger   *slog.Logger

	register registerFunc
	server   *zeroconf.Server
}

// NewAdvertiser prepares an advertisement for an HTTP server listening on
// httpAddr (host:port or :port).
func NewAdvertiser(instance, httpAddr, version string, logger *slog.Logger) (*Advertiser, error) {
	port, err := PortFromAddr(httpAddr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{
		instance: instance,
		port:     port,
		txt:      TXTRecords(version),
		logger:   logger,
		register: zeroconf.Register,
	}, nil
}

// Start registers the service on all interfaces.
func (a *Advertiser) Start() error {
	server, err := a.register(a.instance, ServiceType, Domain, a.port, a.txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	a.server = server
	a.logger.Info("mdns advertisement started", "instance", a.instance, "service", ServiceType, "port", a.port)
	return nil
}

// Shutdown withdraws the advertisement. Safe to call more than once.
func (a *Advertiser) Shutdown() {
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("mdns advertisement stopped", "instance", a.instance)
}

// TXTRecords returns the TXT entries published with the service.
func TXTRecords(version string) []string {
	txt := []string{"path=/devices"}
	if version != "" {
		txt = append(txt, "version="+version)
	}
	return txt
}

// PortFromAddr extracts the numeric port from a listen address.
func PortFromAddr(addr string) (int, error) {
	_, rawPort, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidAddr, addr, err)
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%w: %q: bad port", ErrInvalidAddr, addr)
	}
	return port, nil
}
