// Package config provides configuration loading and structs for the Ruiji server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Library    LibraryConfig    `yaml:"library"`
	Vectorizer VectorizerConfig `yaml:"vectorizer"`
	Search     SearchConfig     `yaml:"search"`
	Network    NetworkConfig    `yaml:"network"`
	Curation   CurationConfig   `yaml:"curation"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LibraryConfig holds storage paths. The library backend is inferred
// from the path suffix (.db/.sqlite for SQLite, anything else bbolt).
type LibraryConfig struct {
	Path           string `yaml:"path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// VectorizerConfig selects and parameterizes the vectorizer.
type VectorizerConfig struct {
	Kind      string `yaml:"kind"`
	ModelPath string `yaml:"model_path"`
	Dimension int    `yaml:"dimension"`
	Workers   int    `yaml:"workers"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	IndexKind         string  `yaml:"index_kind"`
	DefaultTopN       int     `yaml:"default_top_n"`
	MaxTopN           int     `yaml:"max_top_n"`
	DefaultMinScore   float64 `yaml:"default_min_score"`
	FragmentTolerance float64 `yaml:"fragment_tolerance"`
}

// NetworkConfig holds molecular network defaults.
type NetworkConfig struct {
	Metric     string  `yaml:"metric"`
	Threshold  float64 `yaml:"threshold"`
	Undirected *bool   `yaml:"undirected"`
	Workers    int     `yaml:"workers"`
}

// UndirectedOrDefault reports whether networks are undirected; defaults
// to true when unset.
func (n *NetworkConfig) UndirectedOrDefault() bool {
	if n.Undirected != nil {
		return *n.Undirected
	}
	return true
}

// CurationConfig holds quality and duplicate-detection settings.
type CurationConfig struct {
	MinPeaks           int     `yaml:"min_peaks"`
	MinTotalIonCurrent float64 `yaml:"min_total_ion_current"`
	MaxPeakDominance   float64 `yaml:"max_peak_dominance"`
	PrecursorTolerance float64 `yaml:"precursor_tolerance"`
	MinSimilarity      float64 `yaml:"min_similarity"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Library.Path = expandPath(cfg.Library.Path, configDir)
	cfg.Library.BleveIndexPath = expandPath(cfg.Library.BleveIndexPath, configDir)
	if cfg.Vectorizer.ModelPath != "" {
		cfg.Vectorizer.ModelPath = expandPath(cfg.Vectorizer.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
