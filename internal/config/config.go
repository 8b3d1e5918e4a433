package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	LibraryDir         string        `yaml:"library_dir"         json:"library_dir"`
	SourcesDir         string        `yaml:"sources_dir"         json:"sources_dir"`
	DBPath             string        `yaml:"db_path"             json:"-"`
	HTTPAddr           string        `yaml:"http_addr"           json:"-"`
	RescanSchedule     string        `yaml:"rescan_schedule"     json:"rescan_schedule"`
	RescanPaused       bool          `yaml:"rescan_paused"       json:"rescan_paused"`
	OperationRetention time.Duration `yaml:"operation_retention" json:"operation_retention"`
	Cloud              Cloud         `yaml:"cloud"               json:"cloud"`
	Workers            Workers       `yaml:"workers"             json:"workers"`
	LogLevel           string        `yaml:"log_level"           json:"-"`
}

// Cloud holds the playback-position sync service settings. Sync is disabled
// when Endpoint is empty.
type Cloud struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Token    string `yaml:"token"    json:"-"`
	Schedule string `yaml:"schedule" json:"schedule"`
}

// Workers holds concurrency knobs for the maintenance jobs.
type Workers struct {
	ScanWalkers     int `yaml:"scan_walkers"     json:"scan_walkers"`
	HashWorkers     int `yaml:"hash_workers"     json:"hash_workers"`
	ChecksumWorkers int `yaml:"checksum_workers" json:"checksum_workers"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.LibraryDir == "" {
		c.LibraryDir = "/data/library"
	}
	if c.SourcesDir == "" {
		c.SourcesDir = "/data/sources"
	}
	if c.DBPath == "" {
		c.DBPath = "/data/shelfkeeper.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.RescanSchedule == "" {
		c.RescanSchedule = "0 3 * * *"
	}
	if c.OperationRetention == 0 {
		c.OperationRetention = time.Hour
	}
	if c.Workers.ScanWalkers == 0 {
		c.Workers.ScanWalkers = 4
	}
	if c.Workers.HashWorkers == 0 {
		c.Workers.HashWorkers = 2
	}
	if c.Workers.ChecksumWorkers == 0 {
		c.Workers.ChecksumWorkers = 2
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads and parses the YAML config file at path.
// If the file does not exist, Load returns a default Config so the server
// can start without a mounted config file (useful for bare Docker runs).
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// TreeRoot maps a tree name to its configured root directory.
// Valid trees are "sources" and "library".
func (c *Config) TreeRoot(tree string) (string, error) {
	switch tree {
	case "sources":
		return c.SourcesDir, nil
	case "library":
		return c.LibraryDir, nil
	default:
		return "", fmt.Errorf("unknown tree %q", tree)
	}
}
