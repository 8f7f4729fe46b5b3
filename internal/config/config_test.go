package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "REQUEST_TIMEOUT", "DEVICE_TIMEOUT",
		"DISCOVERY_TIMEOUT", "DISCOVERY_TARGET", "DISCOVERY_PACKETS", "DISCOVERY_SUBNETS", "KASA_HOSTS",
		"MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_TOPIC_PREFIX",
		"MDNS_ENABLED", "MDNS_INSTANCE", "STATE_POLL_INTERVAL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg, Defaults()) {
		t.Fatalf("expected defaults, got %#v", cfg)
	}
	if cfg.MQTT.Enabled() {
		t.Fatalf("expected MQTT disabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DISCOVERY_TIMEOUT", "2s")
	t.Setenv("DISCOVERY_PACKETS", "5")
	t.Setenv("KASA_HOSTS", " 10.0.0.5, ,10.0.0.9 ")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MDNS_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected server settings: %#v", cfg)
	}
	if cfg.Discovery.Timeout != 2*time.Second || cfg.Discovery.Packets != 5 {
		t.Fatalf("unexpected discovery settings: %#v", cfg.Discovery)
	}
	if !reflect.DeepEqual(cfg.Discovery.Hosts, []string{"10.0.0.5", "10.0.0.9"}) {
		t.Fatalf("unexpected hosts: %v", cfg.Discovery.Hosts)
	}
	if !cfg.MQTT.Enabled() || !cfg.MDNS.Enabled {
		t.Fatalf("expected MQTT and mDNS enabled")
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVICE_TIMEOUT", "soon")
	t.Setenv("DISCOVERY_PACKETS", "-1")
	t.Setenv("MDNS_ENABLED", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DeviceTimeout != defaultDeviceTimeout || cfg.Discovery.Packets != defaultDiscoveryPackets || cfg.MDNS.Enabled {
		t.Fatalf("expected fallbacks, got %#v", cfg)
	}
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
http_addr: ":7000"
log_format: text
device_timeout: 3s
state_poll_interval: 30s
discovery:
  target: "192.168.1.255:9999"
  hosts: ["192.168.1.20"]
  subnets: ["192.168.1.0/24"]
mqtt:
  broker: "tcp://file-broker:1883"
  topic_prefix: home/kasa
mdns:
  enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("expected env to override file, got %s", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "text" || cfg.DeviceTimeout != 3*time.Second || cfg.StatePollInterval != 30*time.Second {
		t.Fatalf("unexpected file values: %#v", cfg)
	}
	if cfg.Discovery.Target != "192.168.1.255:9999" || len(cfg.Discovery.Hosts) != 1 || len(cfg.Discovery.Subnets) != 1 {
		t.Fatalf("unexpected discovery: %#v", cfg.Discovery)
	}
	if cfg.MQTT.Broker != "tcp://file-broker:1883" || cfg.MQTT.TopicPrefix != "home/kasa" || cfg.MQTT.ClientID != defaultMQTTClientID {
		t.Fatalf("unexpected mqtt: %#v", cfg.MQTT)
	}
	if !cfg.MDNS.Enabled {
		t.Fatalf("expected mdns enabled from file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestDiscoverySubnetsFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCOVERY_SUBNETS", "192.168.1.0/24, ,10.0.0.0/8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(cfg.Discovery.Subnets, []string{"192.168.1.0/24", "10.0.0.0/8"}) {
		t.Fatalf("unexpected subnets: %v", cfg.Discovery.Subnets)
	}
}
