package kasa

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"time"

	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
	"github.com/NickAnderegg/kasa-server/internal/subnet"
)

const (
	// DefaultDiscoveryTarget is the broadcast address probed during discovery.
	DefaultDiscoveryTarget = "255.255.255.255:9999"

	defaultDiscoveryTimeout = 5 * time.Second
	defaultDiscoveryPackets = 3
	maxDatagramSize         = 4096
)

// DiscoveryConfig controls a discovery sweep.
type DiscoveryConfig struct {
	// Target is the UDP address discovery requests are sent to.
	Target string
	// ListenAddr is the local UDP address replies are read on.
	ListenAddr string
	Timeout    time.Duration
	Packets    int
	// Hosts are probed directly over TCP after the broadcast sweep.
	Hosts []string
	// Subnets, when set, restrict broadcast replies to these CIDRs.
	// Configured Hosts are never filtered.
	Subnets []string
}

// Discoverer finds Kasa devices with a UDP broadcast sweep.
type Discoverer struct {
	cfg     DiscoveryConfig
	client  *Client
	subnets *subnet.Matcher
	logger  *slog.Logger
}

func NewDiscoverer(cfg DiscoveryConfig, client *Client, logger *slog.Logger) *Discoverer {
	if cfg.Target == "" {
		cfg.Target = DefaultDiscoveryTarget
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDiscoveryTimeout
	}
	if cfg.Packets <= 0 {
		cfg.Packets = defaultDiscoveryPackets
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{
		cfg:     cfg,
		client:  client,
		subnets: subnet.New().WithCIDRs(cfg.Subnets),
		logger:  logger,
	}
}

// Discover implements devicedomain.Discoverer.
func (d *Discoverer) Discover(ctx context.Context) ([]devicedomain.Handle, error) {
	plugs, err := d.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	handles := make([]devicedomain.Handle, 0, len(plugs))
	for _, plug := range plugs {
		handles = append(handles, plug)
	}
	return handles, nil
}

// Sweep broadcasts sysinfo requests, collects replies until the timeout,
// then probes configured hosts. Plugs are returned in arrival order,
// deduplicated by address.
func (d *Discoverer) Sweep(ctx context.Context) ([]*Plug, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", d.cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	target, err := net.ResolveUDPAddr("udp4", d.cfg.Target)
	if err != nil {
		return nil, err
	}
	request, err := json.Marshal(sysInfoRequest)
	if err != nil {
		return nil, err
	}
	probe := Encrypt(request)
	for i := 0; i < d.cfg.Packets; i++ {
		if _, err := conn.WriteTo(probe, target); err != nil {
			return nil, err
		}
	}

	deadline := time.Now().Add(d.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var plugs []*Plug
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			if ctx.Err() != nil {
				return plugs, ctx.Err()
			}
			return nil, err
		}
		host := hostOf(addr)
		if _, dup := seen[host]; dup {
			continue
		}
		if !d.subnets.Empty() && d.subnets.Match(host) == "" {
			d.logger.Debug("ignoring discovery reply outside configured subnets", "addr", host)
			continue
		}
		var reply systemReply
		if err := json.Unmarshal(Decrypt(buf[:n]), &reply); err != nil {
			d.logger.Debug("ignoring malformed discovery reply", "addr", host, "err", err)
			continue
		}
		info, err := reply.sysInfo()
		if err != nil {
			d.logger.Debug("ignoring discovery reply", "addr", host, "err", err)
			continue
		}
		seen[host] = struct{}{}
		plugs = append(plugs, newPlugWithInfo(host, d.client, info))
		d.logger.Info("discovered device", "addr", host, "alias", aliasOf(info))
	}

	for _, host := range d.cfg.Hosts {
		if _, dup := seen[host]; dup {
			continue
		}
		info, err := d.client.GetSysInfo(ctx, host)
		if err != nil {
			d.logger.Warn("configured host did not answer", "addr", host, "err", err)
			continue
		}
		seen[host] = struct{}{}
		plugs = append(plugs, newPlugWithInfo(host, d.client, info))
		d.logger.Info("discovered device", "addr", host, "alias", aliasOf(info))
	}
	return plugs, nil
}

func hostOf(addr net.Addr) string {
	if udp, ok := addr.(*net.UDPAddr); ok {
		return udp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
