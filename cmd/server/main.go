package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NickAnderegg/kasa-server/internal/config"
	"github.com/NickAnderegg/kasa-server/internal/events"
	httpapi "github.com/NickAnderegg/kasa-server/internal/http"
	"github.com/NickAnderegg/kasa-server/internal/http/handlers"
	"github.com/NickAnderegg/kasa-server/internal/kasa"
	"github.com/NickAnderegg/kasa-server/internal/logging"
	"github.com/NickAnderegg/kasa-server/internal/mdns"
	"github.com/NickAnderegg/kasa-server/internal/mqtt"
	"github.com/NickAnderegg/kasa-server/internal/poller"
	devicesvc "github.com/NickAnderegg/kasa-server/internal/services/device"
)

var version = "dev"

const mqttEventBuffer = 64

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	bus := events.NewBus(logger)
	defer bus.Close()

	client := kasa.NewClient(cfg.DeviceTimeout)
	discoverer := kasa.NewDiscoverer(kasa.DiscoveryConfig{
		Target:  cfg.Discovery.Target,
		Timeout: cfg.Discovery.Timeout,
		Packets: cfg.Discovery.Packets,
		Hosts:   cfg.Discovery.Hosts,
		Subnets: cfg.Discovery.Subnets,
	}, client, logger)

	logger.Info("discovering devices", "target", cfg.Discovery.Target, "timeout", cfg.Discovery.Timeout)
	registry, err := devicesvc.New(ctx, discoverer, bus, logger)
	if err != nil {
		logger.Error("device discovery failed", "err", err)
		os.Exit(1)
	}

	api := handlers.New(registry, bus, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(api, cfg.RequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Zero so long-lived /events connections are not cut off.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MQTT.Enabled() {
		bridge, err := mqtt.Connect(cfg.MQTT, registry, logger)
		if err != nil {
			logger.Error("mqtt bridge unavailable", "broker", cfg.MQTT.Broker, "err", err)
			os.Exit(1)
		}
		defer bridge.Close()

		stateEvents, unsubscribe := bus.Subscribe(mqttEventBuffer)
		publishInitialState(ctx, registry, bridge, logger)
		g.Go(func() error {
			defer unsubscribe()
			bridge.Run(gctx, stateEvents)
			return nil
		})
	}

	if cfg.MDNS.Enabled {
		advertiser, err := mdns.NewAdvertiser(cfg.MDNS.Instance, cfg.HTTPAddr, version, logger)
		if err != nil {
			logger.Error("mdns advertiser misconfigured", "err", err)
			os.Exit(1)
		}
		if err := advertiser.Start(); err != nil {
			logger.Warn("mdns advertisement failed", "err", err)
		} else {
			defer advertiser.Shutdown()
		}
	}

	if cfg.StatePollInterval > 0 {
		statePoller := poller.New(registry, cfg.StatePollInterval, cfg.RequestTimeout, logger)
		g.Go(func() error {
			statePoller.Run(gctx)
			return nil
		})
		statePoller.TriggerRefresh()
		logger.Info("state poller enabled", "interval", cfg.StatePollInterval)
	}

	g.Go(func() error {
		logger.Info("server starting", "addr", httpServer.Addr, "devices", registry.Count())
		return httpapi.RunServer(gctx, httpServer)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated with error", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// publishInitialState seeds the retained state topics with the registry
// contents so subscribers see every device before the first change.
func publishInitialState(ctx context.Context, registry *devicesvc.Service, bridge *mqtt.Bridge, logger *slog.Logger) {
	devices, err := registry.ListDevices(ctx)
	if err != nil {
		logger.Warn("initial mqtt state skipped", "err", err)
		return
	}
	for _, d := range devices {
		evt := events.NewStateChanged(d.Address, d.Alias, d.IsOn, events.SourceRefresh)
		if err := bridge.PublishState(evt); err != nil {
			logger.Warn("initial mqtt state publish failed", "addr", d.Address, "err", err)
		}
	}
}
