// Package config implements the fabric's TOML-based node configuration,
// loaded with BurntSushi/toml. Defaults returns a complete configuration,
// and a Config loaded from a file that omits most fields is completed
// with Defaults' values, so a node always starts with a usable
// configuration — load failures are the only fatal path, and only at
// startup. A zero-value Config built in code is not completed; start
// from Defaults instead.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// RateLimit configures one channel.RateLimitedChannelGroup: a shared
// throughput in cost units per second, and the name of a registered cost
// function for each direction (see ByteCostFunc in costfuncs.go).
type RateLimit struct {
	Throughput float64 `toml:"throughput"`
	CostOut    string  `toml:"cost_out"`
	CostIn     string  `toml:"cost_in"`
}

// MultiChannel configures one channel.MultiChannel's fan-out width.
type MultiChannel struct {
	N int `toml:"n"`
}

// Metrics configures the metrics sink's UDP destination and name prefix.
type Metrics struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	Prefix string `toml:"prefix"`
}

// Logging configures the process-wide fabriclog backend's level.
type Logging struct {
	Level string `toml:"level"`
}

// Node configures the listen address a node's socket or QUIC transport
// binds to.
type Node struct {
	ListenAddress string `toml:"listen_address"`
}

// Config is the complete top-level configuration for one fabric node.
type Config struct {
	Node         Node         `toml:"node"`
	MultiChannel MultiChannel `toml:"multi_channel"`
	RateLimit    RateLimit    `toml:"rate_limit"`
	Metrics      Metrics      `toml:"metrics"`
	Logging      Logging      `toml:"logging"`
}

// Defaults returns a Config with every field a fresh node needs to run,
// used both as the base a loaded file is merged onto and as the
// configuration a node runs with when no file is given.
func Defaults() Config {
	return Config{
		Node:         Node{ListenAddress: "127.0.0.1:9735"},
		MultiChannel: MultiChannel{N: 4},
		RateLimit:    RateLimit{Throughput: 1 << 20, CostOut: "byte", CostIn: "byte"},
		Metrics:      Metrics{Host: "127.0.0.1", Port: 8125, Prefix: "fabric"},
		Logging:      Logging{Level: "INFO"},
	}
}

// Load reads and parses the TOML file at path, starting from Defaults and
// overwriting only the fields present in the file. A malformed file or an
// I/O error is returned to the caller, who must treat it as fatal at
// startup.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	applyZeroDefaults(&cfg)
	return cfg, nil
}

// applyZeroDefaults re-applies Defaults' values to any field a partial
// TOML file left at its Go zero value, so an omitted section doesn't
// silently produce an unusable node (e.g. a rate limit group with
// throughput 0 that would never release anything).
func applyZeroDefaults(cfg *Config) {
	d := Defaults()
	if cfg.Node.ListenAddress == "" {
		cfg.Node.ListenAddress = d.Node.ListenAddress
	}
	if cfg.MultiChannel.N == 0 {
		cfg.MultiChannel.N = d.MultiChannel.N
	}
	if cfg.RateLimit.Throughput == 0 {
		cfg.RateLimit.Throughput = d.RateLimit.Throughput
	}
	if cfg.RateLimit.CostOut == "" {
		cfg.RateLimit.CostOut = d.RateLimit.CostOut
	}
	if cfg.RateLimit.CostIn == "" {
		cfg.RateLimit.CostIn = d.RateLimit.CostIn
	}
	if cfg.Metrics.Host == "" {
		cfg.Metrics.Host = d.Metrics.Host
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = d.Metrics.Port
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
}
