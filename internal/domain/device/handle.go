package device

import "context"

// Handle is a live connection to one physical smart plug. Cached values
// (Alias, IsOn, SysInfo) are only current after Refresh.
type Handle interface {
	Address() string
	Refresh(ctx context.Context) error
	Alias() string
	IsOn() bool
	SysInfo() map[string]any
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Discoverer performs one network sweep and returns responding devices in
// arrival order.
type Discoverer interface {
	Discover(ctx context.Context) ([]Handle, error)
}
