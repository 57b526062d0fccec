package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
library:
  path: "test.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Library.Path == "" {
		t.Error("library path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
library:
  path: "./data/library.sqlite"
  bleve_index_path: "./data/indices/bleve"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	wantLib := filepath.Join(dir, "data", "library.sqlite")
	if cfg.Library.Path != wantLib {
		t.Errorf("library path = %s, want %s", cfg.Library.Path, wantLib)
	}
	wantBleve := filepath.Join(dir, "data", "indices", "bleve")
	if cfg.Library.BleveIndexPath != wantBleve {
		t.Errorf("bleve path = %s, want %s", cfg.Library.BleveIndexPath, wantBleve)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8090 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Vectorizer.Kind != "binned" {
		t.Errorf("default vectorizer kind: got %s", cfg.Vectorizer.Kind)
	}
	if cfg.Search.IndexKind != "exact" {
		t.Errorf("default index kind: got %s", cfg.Search.IndexKind)
	}
	if cfg.Search.DefaultTopN != 10 || cfg.Search.MaxTopN != 100 {
		t.Errorf("default search limits: %+v", cfg.Search)
	}
	if cfg.Search.FragmentTolerance != 0.005 {
		t.Errorf("default fragment tolerance: got %f", cfg.Search.FragmentTolerance)
	}
	if cfg.Network.Metric != "vector_cosine" || cfg.Network.Threshold != 0.7 {
		t.Errorf("default network config: %+v", cfg.Network)
	}
	if cfg.Curation.MinPeaks != 5 || cfg.Curation.MinSimilarity != 0.95 {
		t.Errorf("default curation config: %+v", cfg.Curation)
	}
}

func TestNetworkConfig_UndirectedOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		n := &NetworkConfig{}
		if !n.UndirectedOrDefault() {
			t.Error("UndirectedOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		n := &NetworkConfig{Undirected: &f}
		if n.UndirectedOrDefault() {
			t.Error("UndirectedOrDefault() = true, want false")
		}
	})
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Library: LibraryConfig{Path: "/tmp/library.db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
}
