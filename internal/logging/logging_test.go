package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crowdmap/crowdsync/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", want: slog.LevelDebug},
		{name: "", want: slog.LevelInfo},
		{name: " INFO ", want: slog.LevelInfo},
		{name: "warning", want: slog.LevelWarn},
		{name: "error", want: slog.LevelError},
		{name: "verbose", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestNew_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := New(config.Log{Level: "warn"}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "deployment", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "deployment=7") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "crowdsync.log")
	var buf bytes.Buffer

	logger, closer, err := New(config.Log{Level: "info", Format: "json", File: path, MaxSizeMB: 1}, &buf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("pushed pending posts", "pushed", 2)
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"pushed":2`) || !strings.Contains(buf.String(), `"pushed":2`) {
		t.Errorf("file = %q, stderr = %q", data, buf.String())
	}
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	if _, _, err := New(config.Log{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("New() accepted an unknown format")
	}
}
