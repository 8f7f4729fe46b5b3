package device

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
	"github.com/NickAnderegg/kasa-server/internal/events"
)

// Publisher receives state change events produced by the registry.
type Publisher interface {
	Publish(evt events.Event)
}

var _ devicedomain.Service = (*Service)(nil)

type record struct {
	handle devicedomain.Handle
	alias  string
	isOn   bool
	stale  bool
}

// Service implements device.Service over an in-memory registry populated
// by one discovery sweep. A single mutex serializes every operation,
// including the remote calls it makes.
type Service struct {
	publisher Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	order   []string
	records map[string]*record
}

// New runs discovery once and builds the registry from its result.
func New(ctx context.Context, discoverer devicedomain.Discoverer, publisher Publisher, logger *slog.Logger) (*Service, error) {
	handles, err := discoverer.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover devices: %w", err)
	}
	return NewWithHandles(handles, publisher, logger), nil
}

// NewWithHandles builds a registry from already discovered handles. Later
// handles with an address already present are ignored.
func NewWithHandles(handles []devicedomain.Handle, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		publisher: publisher,
		logger:    logger,
		records:   make(map[string]*record, len(handles)),
	}
	for _, handle := range handles {
		addr := handle.Address()
		if _, exists := s.records[addr]; exists {
			continue
		}
		s.order = append(s.order, addr)
		s.records[addr] = &record{handle: handle, alias: handle.Alias(), isOn: handle.IsOn()}
	}
	s.logger.Info("device registry ready", "devices", len(s.order))
	return s
}

// Count returns the number of registered devices.
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// ListDevices refreshes every device in discovery order. A device whose
// refresh fails keeps its last known state and is marked stale. Once ctx is
// done the remaining devices are reported stale without being contacted.
func (s *Service) ListDevices(ctx context.Context) ([]devicedomain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]devicedomain.Summary, 0, len(s.order))
	for _, addr := range s.order {
		rec := s.records[addr]
		if ctx.Err() != nil {
			rec.stale = true
		} else {
			_ = s.refresh(ctx, addr, rec)
		}
		out = append(out, rec.summary(addr))
	}
	if ctx.Err() != nil {
		s.logger.Warn("device listing cut short", "err", ctx.Err())
	}
	return out, nil
}

// GetDevice refreshes every device and returns the first whose alias
// matches name case-insensitively.
func (s *Service) GetDevice(ctx context.Context, name string) (devicedomain.Detail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		matchAddr string
		match     *record
		matchErr  error
	)
	for _, addr := range s.order {
		if err := ctx.Err(); err != nil {
			return devicedomain.Detail{}, err
		}
		rec := s.records[addr]
		err := s.refresh(ctx, addr, rec)
		if match == nil && strings.EqualFold(name, rec.alias) {
			matchAddr, match, matchErr = addr, rec, err
		}
	}

	if match == nil {
		return devicedomain.Detail{}, devicedomain.ErrDeviceNotFound
	}
	if matchErr != nil {
		return devicedomain.Detail{}, fmt.Errorf("%w: %s: %w", devicedomain.ErrDeviceUnreachable, matchAddr, matchErr)
	}
	return devicedomain.Detail{
		Summary: match.summary(matchAddr),
		SysInfo: match.handle.SysInfo(),
	}, nil
}

// SetPower applies action to the first device whose alias matches name.
// It reports false when no alias matches. The remote command is always
// issued, even when the device is already in the target state.
func (s *Service) SetPower(ctx context.Context, name string, action devicedomain.PowerAction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, addr := range s.order {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		rec := s.records[addr]
		err := s.refresh(ctx, addr, rec)
		if !strings.EqualFold(name, rec.alias) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %s: %w", devicedomain.ErrDeviceUnreachable, addr, err)
		}
		if err := s.applyPower(ctx, addr, rec, action.Target(rec.isOn)); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *Service) applyPower(ctx context.Context, addr string, rec *record, on bool) error {
	var err error
	if on {
		s.logger.Info("turning device on", "alias", rec.alias, "addr", addr)
		err = rec.handle.TurnOn(ctx)
	} else {
		s.logger.Info("turning device off", "alias", rec.alias, "addr", addr)
		err = rec.handle.TurnOff(ctx)
	}
	if err != nil {
		rec.stale = true
		return fmt.Errorf("%w: %s: %w", devicedomain.ErrDeviceUnreachable, addr, err)
	}
	changed := rec.isOn != on
	rec.isOn = on
	if changed {
		s.publish(events.NewStateChanged(addr, rec.alias, on, events.SourceCommand))
	}
	return nil
}

// refresh reloads one device and records its state. Failures mark the
// record stale and are logged.
func (s *Service) refresh(ctx context.Context, addr string, rec *record) error {
	if err := rec.handle.Refresh(ctx); err != nil {
		rec.stale = true
		s.logger.Warn("device refresh failed", "alias", rec.alias, "addr", addr, "err", err)
		return err
	}
	wasOn := rec.isOn
	rec.alias = rec.handle.Alias()
	rec.isOn = rec.handle.IsOn()
	rec.stale = false
	if rec.isOn != wasOn {
		s.publish(events.NewStateChanged(addr, rec.alias, rec.isOn, events.SourceRefresh))
	}
	return nil
}

func (s *Service) publish(evt events.Event) {
	if s.publisher != nil {
		s.publisher.Publish(evt)
	}
}

func (r *record) summary(addr string) devicedomain.Summary {
	return devicedomain.Summary{Address: addr, Alias: r.alias, IsOn: r.isOn, Stale: r.stale}
}
