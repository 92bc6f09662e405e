// Package config loads the uplink configuration from a simple
// KEY=VALUE file.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// PathConfig describes one network path available to the uplink.
type PathConfig struct {
	Id        string
	LocalAddr string // source address of the interface, empty for the default route
}

// Config holds all uplink configuration values.
type Config struct {
	// Uplink endpoint
	RemoteAddr string
	Transport  string // "tcp", "quic", "scion" or "ws"

	// Paths
	Paths       []PathConfig
	ProbeTarget string // defaults to RemoteAddr

	// Timing and limits
	ProbeInterval  time.Duration
	DownThreshold  int
	BufferCapacity int
	SendTimeout    time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	DrainTimeout   time.Duration

	// Fix source
	GpsdAddr string

	// Optional surfaces
	MetricsAddr  string
	MirrorBroker string
	MirrorTopic  string

	LogLevel string
}

// Defaults returns a config with every tunable at its default; the
// required fields stay empty and are caught by validate.
func Defaults() *Config {
	return &Config{
		Transport:      "tcp",
		ProbeInterval:  5 * time.Second,
		DownThreshold:  3,
		BufferCapacity: 1024,
		SendTimeout:    2 * time.Second,
		BackoffBase:    1 * time.Second,
		BackoffCap:     30 * time.Second,
		DrainTimeout:   5 * time.Second,
		GpsdAddr:       "127.0.0.1:2947",
		MirrorTopic:    "uplink/fixes",
		LogLevel:       "info",
	}
}

// Load reads the configuration file and returns a validated Config.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setValue(key, value string) error {
	switch key {
	case "REMOTE_ADDR":
		c.RemoteAddr = value
	case "TRANSPORT":
		c.Transport = strings.ToLower(value)
	case "PATH":
		// One PATH line per path: "PATH=<id>" or "PATH=<id>,<local-addr>"
		p, err := parsePath(value)
		if err != nil {
			return err
		}
		c.Paths = append(c.Paths, p)
	case "PROBE_TARGET":
		c.ProbeTarget = value
	case "PROBE_INTERVAL_MS":
		return setDuration(&c.ProbeInterval, key, value)
	case "DOWN_THRESHOLD":
		return setInt(&c.DownThreshold, key, value)
	case "BUFFER_CAPACITY":
		return setInt(&c.BufferCapacity, key, value)
	case "SEND_TIMEOUT_MS":
		return setDuration(&c.SendTimeout, key, value)
	case "BACKOFF_BASE_MS":
		return setDuration(&c.BackoffBase, key, value)
	case "BACKOFF_CAP_MS":
		return setDuration(&c.BackoffCap, key, value)
	case "DRAIN_TIMEOUT_MS":
		return setDuration(&c.DrainTimeout, key, value)
	case "GPSD_ADDR":
		c.GpsdAddr = value
	case "METRICS_ADDR":
		c.MetricsAddr = value
	case "MIRROR_BROKER":
		c.MirrorBroker = value
	case "MIRROR_TOPIC":
		c.MirrorTopic = value
	case "LOG_LEVEL":
		c.LogLevel = value
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func parsePath(value string) (PathConfig, error) {
	parts := strings.SplitN(value, ",", 2)
	if parts[0] == "" {
		return PathConfig{}, fmt.Errorf("path entry %q has no id", value)
	}
	p := PathConfig{Id: parts[0]}
	if len(parts) == 2 {
		p.LocalAddr = strings.TrimSpace(parts[1])
	}
	return p, nil
}

func setInt(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key, value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// Validate reports the fatal configuration errors that must stop the
// process before the main loop starts.
func (c *Config) Validate() error {
	if c.RemoteAddr == "" {
		return fmt.Errorf("REMOTE_ADDR is required")
	}
	switch c.Transport {
	case "tcp", "quic", "scion", "ws":
	default:
		return fmt.Errorf("unknown TRANSPORT %q", c.Transport)
	}
	if len(c.Paths) == 0 {
		return fmt.Errorf("no paths configured: at least one PATH entry is required")
	}
	seen := map[string]bool{}
	for _, p := range c.Paths {
		if seen[p.Id] {
			return fmt.Errorf("duplicate PATH id %q", p.Id)
		}
		seen[p.Id] = true
	}
	if c.BufferCapacity < 1 {
		return fmt.Errorf("BUFFER_CAPACITY must be at least 1")
	}
	return nil
}
