package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	return dir
}

func TestDefaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	wantData := filepath.Join(dir, "data", "exposure")
	if cfg.DataDir != wantData {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, wantData)
	}
	if cfg.Remote.DB != filepath.Join(wantData, "remote.db") {
		t.Errorf("Remote.DB = %q", cfg.Remote.DB)
	}
	if cfg.Sync.Tag != "exposure-data-sync" || cfg.Sync.ProbeInterval != 15*time.Second {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if len(cfg.Cache.RemoteHosts) != 1 || cfg.Cache.RemoteHosts[0] != "127.0.0.1:8780" {
		t.Errorf("RemoteHosts = %v", cfg.Cache.RemoteHosts)
	}
}

func TestConfigFileAndEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "exposure.toml")
	content := `
user = "alice"

[cache]
version = "exposure-tracker-v2"
remote_hosts = ["firebaseio.com", "googleapis.com"]

[sync]
probe_interval = "30s"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EXPOSURE_HUB_ADDR", "127.0.0.1:9999")
	t.Setenv("EXPOSURE_USER", "bob")

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.User != "bob" {
		t.Errorf("User = %q, env should win over file", cfg.User)
	}
	if cfg.Hub.Addr != "127.0.0.1:9999" {
		t.Errorf("Hub.Addr = %q", cfg.Hub.Addr)
	}
	if cfg.Cache.Version != "exposure-tracker-v2" || len(cfg.Cache.RemoteHosts) != 2 {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Sync.ProbeInterval != 30*time.Second {
		t.Errorf("ProbeInterval = %v", cfg.Sync.ProbeInterval)
	}
}

func TestDiscoveredConfigFile(t *testing.T) {
	dir := isolate(t)
	cfgDir := filepath.Join(dir, "config", "exposure")
	_ = os.MkdirAll(cfgDir, 0755)
	_ = os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("user: carol\n"), 0644)

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.User != "carol" {
		t.Errorf("User = %q, want carol", cfg.User)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)

	if _, err := Load(viper.New(), filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("Load() with a missing explicit file succeeded")
	}

	t.Setenv("EXPOSURE_REMOTE_URL", "not a url")
	if _, err := Load(viper.New(), ""); err == nil {
		t.Error("Load() accepted an invalid remote.url")
	}
}

func TestYAML(t *testing.T) {
	isolate(t)
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML() failed: %v", err)
	}
	for _, want := range []string{"remote:", "addr: 127.0.0.1:8780", "tag: exposure-data-sync"} {
		if !strings.Contains(string(out), want) {
			t.Errorf("YAML() missing %q:\n%s", want, out)
		}
	}
}
