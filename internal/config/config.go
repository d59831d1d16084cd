// Package config loads noted's runtime configuration, generalized from the
// teacher's flag-only configuration (cmd/server/main.go's flag.String/Int
// set) into a layered viper configuration: defaults, an optional config
// file, and environment variable overrides, matching the ambient-config
// convention the rest of the pack uses viper for.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds every value needed to wire a running noted instance.
type Config struct {
	// DataDir holds the SQLite database file.
	DataDir string
	// ListenAddr is the host:port the Transport listens on.
	ListenAddr string
	// DiscoveryPort is loaded from configuration but not consulted by
	// discovery, which always advertises TCP port 5000.
	DiscoveryPort int
	// DeviceName is an optional human-friendly name advertised over mDNS.
	DeviceName string
	// SyncIntervalSeconds is how often `noted serve` runs a sync cycle, in
	// seconds.
	SyncIntervalSeconds int
	// BatchSize overrides the Sync Manager's default sync-up batch size.
	BatchSize int
	// OllamaURL is the base URL of the local embedding oracle.
	OllamaURL string
	// EmbeddingModel overrides the default embedding model name.
	EmbeddingModel string
}

func defaults() *viper.Viper {
	v := viper.New()
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	v.SetDefault("data_dir", filepath.Join(home, ".noted"))
	v.SetDefault("listen_addr", ":5000")
	v.SetDefault("discovery_port", 5000)
	v.SetDefault("device_name", "")
	v.SetDefault("sync_interval_seconds", 30)
	v.SetDefault("batch_size", 50)
	v.SetDefault("ollama_url", "http://127.0.0.1:11434")
	v.SetDefault("embedding_model", "")
	return v
}

// Load reads configuration from (in ascending priority) built-in defaults,
// a config file at configPath (if non-empty and present), and NOTED_*
// environment variables.
func Load(configPath string) (*Config, error) {
	v := defaults()
	v.SetEnvPrefix("NOTED")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("config.Load: read %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{
		DataDir:             v.GetString("data_dir"),
		ListenAddr:          v.GetString("listen_addr"),
		DiscoveryPort:       v.GetInt("discovery_port"),
		DeviceName:          v.GetString("device_name"),
		SyncIntervalSeconds: v.GetInt("sync_interval_seconds"),
		BatchSize:           v.GetInt("batch_size"),
		OllamaURL:           v.GetString("ollama_url"),
		EmbeddingModel:      v.GetString("embedding_model"),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("config.Load: create data dir: %w", err)
	}
	return cfg, nil
}

// DatabasePath returns the path to the SQLite database file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "noted.db")
}
