package kasa

import (
	"context"
	"maps"
	"sync"
)

// Plug is a handle to one Kasa smart plug. It caches the last sysinfo
// reply; Refresh replaces the cache.
type Plug struct {
	host   string
	client *Client

	mu      sync.RWMutex
	sysInfo map[string]any
}

func NewPlug(host string, client *Client) *Plug {
	return &Plug{host: host, client: client, sysInfo: map[string]any{}}
}

func newPlugWithInfo(host string, client *Client, info map[string]any) *Plug {
	p := NewPlug(host, client)
	if info != nil {
		p.sysInfo = info
	}
	return p
}

func (p *Plug) Address() string {
	return p.host
}

// Refresh reloads sysinfo from the device.
func (p *Plug) Refresh(ctx context.Context) error {
	info, err := p.client.GetSysInfo(ctx, p.host)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sysInfo = info
	p.mu.Unlock()
	return nil
}

func (p *Plug) Alias() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return aliasOf(p.sysInfo)
}

func (p *Plug) IsOn() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return relayOn(p.sysInfo)
}

// SysInfo returns a shallow copy of the cached sysinfo map.
func (p *Plug) SysInfo() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return maps.Clone(p.sysInfo)
}

func (p *Plug) TurnOn(ctx context.Context) error {
	return p.setRelay(ctx, true)
}

func (p *Plug) TurnOff(ctx context.Context) error {
	return p.setRelay(ctx, false)
}

func (p *Plug) setRelay(ctx context.Context, on bool) error {
	if err := p.client.SetRelayState(ctx, p.host, on); err != nil {
		return err
	}
	state := 0.0
	if on {
		state = 1
	}
	p.mu.Lock()
	p.sysInfo = maps.Clone(p.sysInfo)
	p.sysInfo["relay_state"] = state
	p.mu.Unlock()
	return nil
}
