package mqtt

import "strings"

// Topics builds topic names below a configurable prefix.
type Topics struct {
	Prefix string
}

// State is the retained per-device state topic, keyed by address.
//
// Example: kasa/10.0.0.5/state
func (t Topics) State(address string) string {
	return t.prefix() + "/" + address + "/state"
}

// Status is the retained service availability topic.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Command is the topic power commands are received on.
func (t Topics) Command() string {
	return t.prefix() + "/command"
}

func (t Topics) prefix() string {
	prefix := strings.Trim(strings.TrimSpace(t.Prefix), "/")
	if prefix == "" {
		return "kasa"
	}
	return prefix
}
