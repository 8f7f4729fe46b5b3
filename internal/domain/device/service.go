package device

import "context"

// Service exposes registry use-cases used by the HTTP layer.
type Service interface {
	ListDevices(ctx context.Context) ([]Summary, error)
	GetDevice(ctx context.Context, name string) (Detail, error)
	SetPower(ctx context.Context, name string, action PowerAction) (bool, error)
	Count() int
}
