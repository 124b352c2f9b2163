// Package config loads relay settings from a YAML file, a .env file and the
// environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RelayConfig struct {
	Name   string `yaml:"name"`
	Region string `yaml:"region"`
}

type BridgePeer struct {
	Name    string `yaml:"name"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	TLS     bool   `yaml:"tls"`
	Enabled bool   `yaml:"enabled"`
}

// UnmarshalYAML defaults enabled to true when the key is absent.
func (p *BridgePeer) UnmarshalYAML(node *yaml.Node) error {
	type rawBridgePeer struct {
		Name    string `yaml:"name"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
		TLS     bool   `yaml:"tls"`
		Enabled *bool  `yaml:"enabled"`
	}
	var raw rawBridgePeer
	if err := node.Decode(&raw); err != nil {
		return err
	}
	p.Name = raw.Name
	p.Host = raw.Host
	p.Port = raw.Port
	p.TLS = raw.TLS
	p.Enabled = raw.Enabled == nil || *raw.Enabled
	return nil
}

// URL is the WebSocket endpoint dialed for this peer.
func (p BridgePeer) URL() string {
	scheme := "ws"
	if p.TLS {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port)) + "/ws"
}

type BridgesConfig struct {
	ReconnectInterval time.Duration `yaml:"reconnectInterval"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	Peers             []BridgePeer  `yaml:"peers"`
}

type LivenessConfig struct {
	SweepInterval time.Duration `yaml:"sweepInterval"`
	NodeTimeout   time.Duration `yaml:"nodeTimeout"`
}

type StatusConfig struct {
	Auth   bool   `yaml:"auth"`
	Secret string `yaml:"secret"`
}

// TLSConfig enables HTTPS/WSS on the listener; ClientCA turns on mutual TLS.
type TLSConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
	ClientCA string `yaml:"clientCA"`
}

func (t TLSConfig) Enabled() bool { return t.CertFile != "" && t.KeyFile != "" }

type ConsulConfig struct {
	Address string `yaml:"address"`
	Prefix  string `yaml:"prefix"`
}

type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Listen   string         `yaml:"listen"`
	TLS      TLSConfig      `yaml:"tls"`
	Bridges  BridgesConfig  `yaml:"bridges"`
	Liveness LivenessConfig `yaml:"liveness"`
	LogLevel string         `yaml:"logLevel"`
	Status   StatusConfig   `yaml:"status"`
	Consul   ConsulConfig   `yaml:"consul"`
}

var (
	ErrNoRelayName   = errors.New("relay.name is required")
	ErrNoStatusKey   = errors.New("status.secret is required when status.auth is enabled")
	ErrBadPeer       = errors.New("invalid bridge peer")
	ErrDuplicatePeer = errors.New("duplicate bridge peer name")
	ErrPartialTLS    = errors.New("tls.certFile and tls.keyFile must be set together")
)

func Default() Config {
	return Config{
		Listen: ":8080",
		Bridges: BridgesConfig{
			ReconnectInterval: 5 * time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
		Liveness: LivenessConfig{
			SweepInterval: 60 * time.Second,
			NodeTimeout:   120 * time.Second,
		},
		LogLevel: "info",
		Consul:   ConsulConfig{Prefix: "peer-relay/bridges/"},
	}
}

// Load reads path (optional), then .env, then environment overrides, then
// the supplied overrides (command-line flags), and validates the result.
func Load(path string, overrides ...func(*Config)) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := loadDotEnv(); err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	for _, o := range overrides {
		o(&cfg)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("RELAY_NAME"); v != "" {
		c.Relay.Name = v
	}
	if v := os.Getenv("RELAY_REGION"); v != "" {
		c.Relay.Region = v
	}
	if v := os.Getenv("RELAY_LISTEN"); v != "" {
		c.Listen = v
	} else if v := os.Getenv("RELAY_PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Status.Secret = v
	}
	if v := os.Getenv("CONSUL_ADDR"); v != "" {
		c.Consul.Address = v
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Bridges.ReconnectInterval <= 0 {
		c.Bridges.ReconnectInterval = d.Bridges.ReconnectInterval
	}
	if c.Bridges.HeartbeatInterval <= 0 {
		c.Bridges.HeartbeatInterval = d.Bridges.HeartbeatInterval
	}
	if c.Liveness.SweepInterval <= 0 {
		c.Liveness.SweepInterval = d.Liveness.SweepInterval
	}
	if c.Liveness.NodeTimeout <= 0 {
		c.Liveness.NodeTimeout = d.Liveness.NodeTimeout
	}
	if c.Consul.Prefix == "" {
		c.Consul.Prefix = d.Consul.Prefix
	}
}

func (c *Config) Validate() error {
	c.Relay.Name = strings.TrimSpace(c.Relay.Name)
	if c.Relay.Name == "" {
		return ErrNoRelayName
	}
	if c.Status.Auth && c.Status.Secret == "" {
		return ErrNoStatusKey
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return ErrPartialTLS
	}
	seen := make(map[string]struct{}, len(c.Bridges.Peers))
	for i, p := range c.Bridges.Peers {
		if err := p.validate(); err != nil {
			return fmt.Errorf("bridges.peers[%d]: %w", i, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("bridges.peers[%d]: %w: %s", i, ErrDuplicatePeer, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

func (p BridgePeer) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrBadPeer)
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrBadPeer)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrBadPeer, p.Port)
	}
	return nil
}
