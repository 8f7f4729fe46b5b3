package device

import (
	"fmt"
	"strings"
)

// PowerAction is the desired power change for a device.
type PowerAction string

const (
	PowerOn     PowerAction = "on"
	PowerOff    PowerAction = "off"
	PowerToggle PowerAction = "toggle"
)

// ParsePowerAction maps a path segment to a PowerAction.
func ParsePowerAction(raw string) (PowerAction, error) {
	switch action := PowerAction(strings.ToLower(strings.TrimSpace(raw))); action {
	case PowerOn, PowerOff, PowerToggle:
		return action, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPowerAction, raw)
	}
}

// Target returns the relay state to command given the refreshed current state.
func (a PowerAction) Target(current bool) bool {
	switch a {
	case PowerOn:
		return true
	case PowerOff:
		return false
	default:
		return !current
	}
}

// Summary is the registry's view of one device after a refresh.
type Summary struct {
	Address string
	Alias   string
	IsOn    bool
	Stale   bool
}

// Detail extends Summary with the device-reported system information.
type Detail struct {
	Summary
	SysInfo map[string]any
}
