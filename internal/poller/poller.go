package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
)

// Refresher is the registry operation the poller drives.
type Refresher interface {
	ListDevices(ctx context.Context) ([]devicedomain.Summary, error)
}

// Poller refreshes every registered device on a fixed interval so state
// changes made outside the API reach event subscribers.
type Poller struct {
	devices   Refresher
	interval  time.Duration
	timeout   time.Duration
	refreshCh chan struct{}
	logger    *slog.Logger
}

// New creates a poller. timeout bounds a single poll; zero means interval.
func New(devices Refresher, interval, timeout time.Duration, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		devices:   devices,
		interval:  interval,
		timeout:   timeout,
		refreshCh: make(chan struct{}, 1),
		logger:    logger,
	}
}

// TriggerRefresh requests an immediate poll. It never blocks.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
		p.pollOnce(ctx)
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	devices, err := p.devices.ListDevices(pollCtx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		p.logger.Error("poll failed", "err", err)
		return
	}
	stale := 0
	for _, d := range devices {
		if d.Stale {
			stale++
		}
	}
	p.logger.Debug("poll complete", "devices", len(devices), "stale", stale)
}
