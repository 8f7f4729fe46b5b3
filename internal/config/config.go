package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr          = ":5000"
	defaultRequestTimeout    = 20 * time.Second
	defaultDiscoveryTimeout  = 5 * time.Second
	defaultDiscoveryTarget   = "255.255.255.255:9999"
	defaultDiscoveryPackets  = 3
	defaultDeviceTimeout     = 5 * time.Second
	defaultMQTTClientID      = "kasa-server"
	defaultMQTTTopicPrefix   = "kasa"
	defaultMDNSInstance      = "kasa-server"
	defaultLogFormat         = "json"
	defaultConfigFileEnvName = "CONFIG_FILE"
)

// Config stores runtime settings loaded from an optional YAML file and
// environment variables. Environment values win.
type Config struct {
	HTTPAddr       string
	LogLevel       slog.Level
	LogFormat      string
	RequestTimeout time.Duration
	DeviceTimeout  time.Duration
	Discovery      DiscoveryConfig
	MQTT           MQTTConfig
	MDNS           MDNSConfig

	// StatePollInterval enables the background state poller when positive.
	StatePollInterval time.Duration
}

// DiscoveryConfig controls the startup discovery sweep.
type DiscoveryConfig struct {
	Timeout time.Duration
	Target  string
	Packets int
	Hosts   []string
	Subnets []string
}

// MQTTConfig controls the optional MQTT bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

// MDNSConfig controls the optional mDNS advertisement of the HTTP API.
type MDNSConfig struct {
	Enabled  bool
	Instance string
}

type fileConfig struct {
	HTTPAddr       string `yaml:"http_addr"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	RequestTimeout string `yaml:"request_timeout"`
	DeviceTimeout  string `yaml:"device_timeout"`
	StatePoll      string `yaml:"state_poll_interval"`
	Discovery      struct {
		Timeout string   `yaml:"timeout"`
		Target  string   `yaml:"target"`
		Packets int      `yaml:"packets"`
		Hosts   []string `yaml:"hosts"`
		Subnets []string `yaml:"subnets"`
	} `yaml:"discovery"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	MDNS struct {
		Enabled  bool   `yaml:"enabled"`
		Instance string `yaml:"instance"`
	} `yaml:"mdns"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPAddr:       defaultHTTPAddr,
		LogLevel:       slog.LevelInfo,
		LogFormat:      defaultLogFormat,
		RequestTimeout: defaultRequestTimeout,
		DeviceTimeout:  defaultDeviceTimeout,
		Discovery: DiscoveryConfig{
			Timeout: defaultDiscoveryTimeout,
			Target:  defaultDiscoveryTarget,
			Packets: defaultDiscoveryPackets,
		},
		MQTT: MQTTConfig{
			ClientID:    defaultMQTTClientID,
			TopicPrefix: defaultMQTTTopicPrefix,
		},
		MDNS: MDNSConfig{Instance: defaultMDNSInstance},
	}
}

// Load builds Config from defaults, the YAML file named by CONFIG_FILE (if
// any), then environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if path := getenv(defaultConfigFileEnvName, ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var file fileConfig
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.HTTPAddr, file.HTTPAddr)
	if file.LogLevel != "" {
		c.LogLevel = parseLogLevel(file.LogLevel)
	}
	setString(&c.LogFormat, strings.ToLower(file.LogFormat))
	setDuration(&c.RequestTimeout, file.RequestTimeout)
	setDuration(&c.DeviceTimeout, file.DeviceTimeout)
	setDuration(&c.StatePollInterval, file.StatePoll)

	setDuration(&c.Discovery.Timeout, file.Discovery.Timeout)
	setString(&c.Discovery.Target, file.Discovery.Target)
	if file.Discovery.Packets > 0 {
		c.Discovery.Packets = file.Discovery.Packets
	}
	if hosts := cleanList(file.Discovery.Hosts); len(hosts) > 0 {
		c.Discovery.Hosts = hosts
	}
	if subnets := cleanList(file.Discovery.Subnets); len(subnets) > 0 {
		c.Discovery.Subnets = subnets
	}

	setString(&c.MQTT.Broker, file.MQTT.Broker)
	setString(&c.MQTT.ClientID, file.MQTT.ClientID)
	setString(&c.MQTT.Username, file.MQTT.Username)
	setString(&c.MQTT.Password, file.MQTT.Password)
	setString(&c.MQTT.TopicPrefix, file.MQTT.TopicPrefix)

	c.MDNS.Enabled = c.MDNS.Enabled || file.MDNS.Enabled
	setString(&c.MDNS.Instance, file.MDNS.Instance)
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	if raw := getenv("LOG_LEVEL", ""); raw != "" {
		c.LogLevel = parseLogLevel(raw)
	}
	c.LogFormat = strings.ToLower(getenv("LOG_FORMAT", c.LogFormat))
	c.RequestTimeout = parseDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.DeviceTimeout = parseDuration("DEVICE_TIMEOUT", c.DeviceTimeout)
	c.StatePollInterval = parseDuration("STATE_POLL_INTERVAL", c.StatePollInterval)

	c.Discovery.Timeout = parseDuration("DISCOVERY_TIMEOUT", c.Discovery.Timeout)
	c.Discovery.Target = getenv("DISCOVERY_TARGET", c.Discovery.Target)
	c.Discovery.Packets = parseInt("DISCOVERY_PACKETS", c.Discovery.Packets)
	if raw := getenv("KASA_HOSTS", ""); raw != "" {
		c.Discovery.Hosts = cleanList(strings.Split(raw, ","))
	}
	if raw := getenv("DISCOVERY_SUBNETS", ""); raw != "" {
		c.Discovery.Subnets = cleanList(strings.Split(raw, ","))
	}

	c.MQTT.Broker = getenv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.ClientID = getenv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Username = getenv("MQTT_USERNAME", c.MQTT.Username)
	c.MQTT.Password = getenv("MQTT_PASSWORD", c.MQTT.Password)
	c.MQTT.TopicPrefix = getenv("MQTT_TOPIC_PREFIX", c.MQTT.TopicPrefix)

	c.MDNS.Enabled = parseBool("MDNS_ENABLED", c.MDNS.Enabled)
	c.MDNS.Instance = getenv("MDNS_INSTANCE", c.MDNS.Instance)
}

func getenv(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func parseBool(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if value, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil && value > 0 {
		*dst = value
	}
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
