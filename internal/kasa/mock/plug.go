package mock

import (
	"context"
	"maps"
	"sync"

	devicedomain "github.com/NickAnderegg/kasa-server/internal/domain/device"
)

// Call stores one remote invocation made on a Plug.
type Call struct {
	Method string
}

// Plug is a programmable in-memory implementation of devicedomain.Handle.
// Remote state (RemoteAlias, RemoteOn) becomes visible through Alias and
// IsOn only after Refresh, as with a real device.
type Plug struct {
	mu sync.Mutex

	Addr        string
	RemoteAlias string
	RemoteOn    bool
	RemoteInfo  map[string]any

	RefreshErr error
	PowerErr   error
	// HangRefresh makes Refresh block until its context is done.
	HangRefresh bool

	alias string
	on    bool
	info  map[string]any
	Calls []Call
}

// NewPlug creates a plug whose cached state already matches remote state.
func NewPlug(addr, alias string, on bool) *Plug {
	p := &Plug{Addr: addr, RemoteAlias: alias, RemoteOn: on, RemoteInfo: map[string]any{"model": "HS103(US)"}}
	p.alias, p.on, p.info = alias, on, maps.Clone(p.RemoteInfo)
	return p
}

func (p *Plug) Address() string {
	return p.Addr
}

func (p *Plug) Refresh(ctx context.Context) error {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Method: "refresh"})
	hang := p.HangRefresh
	p.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RefreshErr != nil {
		return p.RefreshErr
	}
	p.alias, p.on, p.info = p.RemoteAlias, p.RemoteOn, maps.Clone(p.RemoteInfo)
	return nil
}

func (p *Plug) Alias() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alias
}

func (p *Plug) IsOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

func (p *Plug) SysInfo() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.info)
}

func (p *Plug) TurnOn(ctx context.Context) error {
	return p.setPower("turn_on", true)
}

func (p *Plug) TurnOff(ctx context.Context) error {
	return p.setPower("turn_off", false)
}

// SetRemote changes the physical state behind the handle's back.
func (p *Plug) SetRemote(alias string, on bool) {
	p.mu.Lock()
	p.RemoteAlias, p.RemoteOn = alias, on
	p.mu.Unlock()
}

// CallsSnapshot returns a copy of accumulated calls.
func (p *Plug) CallsSnapshot() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.Calls))
	copy(out, p.Calls)
	return out
}

// Count returns how many times method was called.
func (p *Plug) Count(method string) int {
	n := 0
	for _, call := range p.CallsSnapshot() {
		if call.Method == method {
			n++
		}
	}
	return n
}

func (p *Plug) setPower(method string, on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Method: method})
	if p.PowerErr != nil {
		return p.PowerErr
	}
	p.RemoteOn = on
	p.on = on
	return nil
}

// Discoverer returns a fixed set of handles.
type Discoverer struct {
	Handles []devicedomain.Handle
	Err     error
	Calls   int
}

func (d *Discoverer) Discover(ctx context.Context) ([]devicedomain.Handle, error) {
	d.Calls++
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Handles, nil
}

// Handles adapts plugs to the domain handle slice.
func Handles(plugs ...*Plug) []devicedomain.Handle {
	out := make([]devicedomain.Handle, 0, len(plugs))
	for _, plug := range plugs {
		out = append(out, plug)
	}
	return out
}
