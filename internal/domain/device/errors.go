package device

import "errors"

var (
	// ErrDeviceNotFound indicates no device alias matches the requested name.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrDeviceUnreachable indicates a remote call to the matched device failed.
	ErrDeviceUnreachable = errors.New("device unreachable")
	// ErrInvalidPowerAction indicates an unknown power action.
	ErrInvalidPowerAction = errors.New("invalid power action")
)
