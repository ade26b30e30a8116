package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opd-ai/edgenet/discovery"
	"github.com/opd-ai/edgenet/udp"
)

// Config is the edgecat configuration, read from a YAML file and EDGENET_*
// environment variables. Flags override both.
type Config struct {
	Log         LogConfig       `mapstructure:"log"`
	UDP         UDPConfig       `mapstructure:"udp"`
	Discovery   DiscoveryConfig `mapstructure:"discovery"`
	MetricsAddr string          `mapstructure:"metrics_addr"`
}

// LogConfig selects the log level and an optional rotated log file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// UDPConfig describes the UDP edge listener.
type UDPConfig struct {
	Port      int      `mapstructure:"port"`
	BindIP    string   `mapstructure:"bind_ip"`
	Advertise []string `mapstructure:"advertise"`
	SendQueue int      `mapstructure:"send_queue"`
}

// DiscoveryConfig describes local discovery.
type DiscoveryConfig struct {
	Namespace string        `mapstructure:"namespace"`
	Group     string        `mapstructure:"group"`
	Period    time.Duration `mapstructure:"period"`
	QueryOnly bool          `mapstructure:"query_only"`
}

// defaultConfig returns the configuration used when nothing overrides it.
func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		UDP: UDPConfig{
			SendQueue: udp.DefaultSendQueueSize,
		},
		Discovery: DiscoveryConfig{
			Namespace: "edgenet",
			Group:     discovery.DefaultGroup().String(),
			Period:    discovery.DefaultPeriod,
		},
	}
}

// loadConfig reads path, or edgecat.yaml from the working directory and
// ~/.edgenet when path is empty. A missing default file is not an error.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EDGENET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.compress", cfg.Log.Compress)
	v.SetDefault("udp.port", cfg.UDP.Port)
	v.SetDefault("udp.bind_ip", cfg.UDP.BindIP)
	v.SetDefault("udp.advertise", cfg.UDP.Advertise)
	v.SetDefault("udp.send_queue", cfg.UDP.SendQueue)
	v.SetDefault("discovery.namespace", cfg.Discovery.Namespace)
	v.SetDefault("discovery.group", cfg.Discovery.Group)
	v.SetDefault("discovery.period", cfg.Discovery.Period)
	v.SetDefault("discovery.query_only", cfg.Discovery.QueryOnly)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)

	if path == "" {
		path = os.Getenv("EDGENET_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("edgecat")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".edgenet"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateConfig rejects values no component can use.
func validateConfig(cfg *Config) error {
	if cfg.UDP.Port < 0 || cfg.UDP.Port > 65535 {
		return fmt.Errorf("invalid udp port %d: must be between 0 and 65535", cfg.UDP.Port)
	}
	if cfg.UDP.BindIP != "" && net.ParseIP(cfg.UDP.BindIP) == nil {
		return fmt.Errorf("invalid udp bind_ip %q", cfg.UDP.BindIP)
	}
	for _, s := range cfg.UDP.Advertise {
		if net.ParseIP(s) == nil {
			return fmt.Errorf("invalid udp advertise address %q", s)
		}
	}
	if cfg.UDP.SendQueue < 0 {
		return fmt.Errorf("udp send_queue cannot be negative")
	}
	if _, err := net.ResolveUDPAddr("udp4", cfg.Discovery.Group); err != nil {
		return fmt.Errorf("invalid discovery group %q: %w", cfg.Discovery.Group, err)
	}
	if cfg.Discovery.Period <= 0 {
		return fmt.Errorf("discovery period must be positive")
	}
	return nil
}

// udpOptions turns the UDP section into listener options.
func (c *Config) udpOptions() *udp.Options {
	opts := udp.NewOptions()
	opts.Port = c.UDP.Port
	if c.UDP.BindIP != "" {
		opts.BindIP = net.ParseIP(c.UDP.BindIP)
	}
	for _, s := range c.UDP.Advertise {
		opts.AdvertiseIPs = append(opts.AdvertiseIPs, net.ParseIP(s))
	}
	if c.UDP.SendQueue > 0 {
		opts.SendQueueSize = c.UDP.SendQueue
	}
	return opts
}

// discoveryOptions turns the discovery section into LocalDiscovery options.
func (c *Config) discoveryOptions() (discovery.LocalOptions, error) {
	group, err := net.ResolveUDPAddr("udp4", c.Discovery.Group)
	if err != nil {
		return discovery.LocalOptions{}, err
	}
	return discovery.LocalOptions{
		Namespace: c.Discovery.Namespace,
		Group:     group,
		QueryOnly: c.Discovery.QueryOnly,
		Options:   discovery.Options{Period: c.Discovery.Period},
	}, nil
}
