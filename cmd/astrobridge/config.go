package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"astrobridge/pkg/device"
	"astrobridge/pkg/facade"
	"astrobridge/pkg/store"
)

const (
	defaultAlpacaPort = 11111
	defaultINDIPort   = 7624
)

// Config is the YAML configuration file. Servers and device profiles listed
// here are written to the profile store when serving.
type Config struct {
	Listen           string                `yaml:"listen"`
	Database         string                `yaml:"database"`
	LogLevel         string                `yaml:"logLevel"`
	ConnectTimeout   time.Duration         `yaml:"connectTimeout"`
	DiscoveryTimeout time.Duration         `yaml:"discoveryTimeout"`
	Servers          []store.Server        `yaml:"servers"`
	Devices          []store.DeviceProfile `yaml:"devices"`
	MQTT             *store.MQTTConfig     `yaml:"mqtt"`
}

func defaultConfig() Config {
	return Config{
		Listen:           ":8080",
		Database:         "astrobridge.db",
		LogLevel:         "info",
		ConnectTimeout:   facade.DefaultConnectTimeout,
		DiscoveryTimeout: facade.DefaultDiscoverTimeout,
	}
}

// loadConfig reads path over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MQTT != nil && cfg.MQTT.TopicRoot == "" {
		cfg.MQTT.TopicRoot = store.DefaultMQTTConfig.TopicRoot
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	for i, s := range c.Servers {
		if s.Host == "" {
			return fmt.Errorf("servers[%d]: host is required", i)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("servers[%d]: port must be 1-65535, got %d", i, s.Port)
		}
	}
	for i, d := range c.Devices {
		if d.Name == "" {
			return fmt.Errorf("devices[%d]: name is required", i)
		}
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connectTimeout must be positive")
	}
	return nil
}

// indiAddresses lists the configured INDI servers for discovery.
func (c Config) indiAddresses() []string {
	var out []string
	for _, s := range c.Servers {
		if s.Backend == device.BackendINDI {
			out = append(out, s.Address())
		}
	}
	return out
}

// parseServer reads "backend://host[:port]". Without a scheme the server is
// taken to be Alpaca; without a port the backend's default port is used.
func parseServer(s string) (store.Server, error) {
	srv := store.Server{Backend: device.BackendASCOM, AutoConnect: true}
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		b, err := device.ParseBackend(scheme)
		if err != nil {
			return srv, err
		}
		srv.Backend = b
		s = rest
	}
	srv.Port = defaultAlpacaPort
	if srv.Backend == device.BackendINDI {
		srv.Port = defaultINDIPort
	}

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port given.
		host = s
	} else {
		srv.Port, err = strconv.Atoi(port)
		if err != nil || srv.Port <= 0 || srv.Port > 65535 {
			return srv, fmt.Errorf("invalid port in %q", s)
		}
	}
	if host == "" {
		return srv, fmt.Errorf("missing host in %q", s)
	}
	srv.Host = host
	return srv, nil
}
