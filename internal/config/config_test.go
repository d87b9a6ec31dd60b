package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CROWDSYNC_DATA_DIR", dir)

	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.Database != filepath.Join(dir, "cache.db") || cfg.Outbox != filepath.Join(dir, "outbox") {
		t.Errorf("derived paths = %q, %q", cfg.Database, cfg.Outbox)
	}
	if cfg.Remote.Timeout != 30*time.Second || cfg.Daemon.Debounce != 100*time.Millisecond {
		t.Errorf("durations = %v, %v", cfg.Remote.Timeout, cfg.Daemon.Debounce)
	}
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	want := Default()
	want.DataDir = filepath.Dir(path)
	want.Database = filepath.Join(want.DataDir, "custom.db")
	want.Outbox = filepath.Join(want.DataDir, "outbox")
	want.Remote.ClientID = "mobile-client"
	want.Log.Level = "debug"
	want.Daemon.PushInterval = 45 * time.Second
	want.Events.Addr = "127.0.0.1:9999"

	if err := Write(path, want); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `push_interval = "45s"`) {
		t.Errorf("durations not written as strings:\n%s", data)
	}

	got, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := Default()
	cfg.Log.Level = "warn"
	if err := Write(path, cfg); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CROWDSYNC_LOG_LEVEL", "debug")
	t.Setenv("CROWDSYNC_DAEMON_REFRESH_LIMIT", "50")

	got, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Log.Level != "debug" || got.Daemon.RefreshLimit != 50 {
		t.Errorf("overrides not applied: level=%q limit=%d", got.Log.Level, got.Daemon.RefreshLimit)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("log = [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(viper.New(), path); err == nil {
		t.Error("Load() succeeded on a malformed file")
	}
}
