// Package config loads the monitor's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MonitorConfig holds the capture and discovery settings.
type MonitorConfig struct {
	Interface          string `yaml:"interface"`
	SnapshotLength     int32  `yaml:"snapshot_length"`
	Promiscuous        bool   `yaml:"promiscuous"`
	FilePrefix         string `yaml:"file_prefix"`
	DetailedFilePrefix string `yaml:"detailed_file_prefix"`
	ExportInterval     string `yaml:"export_interval"`
	AutoRecord         bool   `yaml:"auto_record"`
	RecordDir          string `yaml:"record_dir"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ProbeConfig holds the NATS transport settings for the remote probe.
type ProbeConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds the optional stats-record writer settings.
type ClickHouseConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Database       string `yaml:"database"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	ExportInterval string `yaml:"export_interval"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Monitor    MonitorConfig    `yaml:"monitor"`
	API        APIConfig        `yaml:"api"`
	Probe      ProbeConfig      `yaml:"probe"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config
// struct with defaults applied.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Monitor: MonitorConfig{
			SnapshotLength: 1600,
			Promiscuous:    true,
			ExportInterval: "5s",
			RecordDir:      ".",
		},
		API: APIConfig{
			ListenAddr: ":8080",
		},
		Probe: ProbeConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "ltnt.packets.headers",
		},
	}
}
