package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Paths.OutputDir != "recordings" || cfg.Paths.ScratchDir != "scratch" {
		t.Fatalf("unexpected default paths: %+v", cfg.Paths)
	}
	if cfg.Capture.WebcamEnabled || cfg.Capture.MicrophoneEnabled {
		t.Fatalf("optional tracks must default off: %+v", cfg.Capture)
	}
	if !cfg.Capture.Tracking.Enabled {
		t.Fatalf("event tracking must default on")
	}
	if cfg.Capture.Video.Format != "webm" || cfg.Capture.Video.ChunkIntervalMs != 250 {
		t.Fatalf("unexpected video defaults: %+v", cfg.Capture.Video)
	}
	if cfg.Capture.Microphone.Format != "ogg" {
		t.Fatalf("unexpected microphone defaults: %+v", cfg.Capture.Microphone)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"paths:",
		"  output_dir: captures",
		"  scratch_dir: /tmp/screenloop  # scratch space",
		"capture:",
		"  webcam_enabled: true",
		"  microphone_enabled: yes",
		"  video:",
		"    format: 'MP4'",
		"    chunk_interval_ms: 100",
		"  webcam:",
		"    width: 1920",
		"    height: 1080",
		"  tracking:",
		"    enabled: false",
		"    batch_size: 50",
		"logging:",
		"  level: debug",
		"  format: console",
	}, "\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Paths.OutputDir != "captures" {
		t.Fatalf("expected output dir override, got %q", cfg.Paths.OutputDir)
	}
	if cfg.Paths.ScratchDir != "/tmp/screenloop" {
		t.Fatalf("expected trailing comment stripped, got %q", cfg.Paths.ScratchDir)
	}
	if !cfg.Capture.WebcamEnabled || !cfg.Capture.MicrophoneEnabled {
		t.Fatalf("expected both optional tracks enabled: %+v", cfg.Capture)
	}
	if cfg.Capture.Video.Format != "mp4" || cfg.Capture.Video.ChunkIntervalMs != 100 {
		t.Fatalf("unexpected video settings: %+v", cfg.Capture.Video)
	}
	if cfg.Capture.Webcam.Width != 1920 || cfg.Capture.Webcam.Height != 1080 {
		t.Fatalf("unexpected webcam dimensions: %+v", cfg.Capture.Webcam)
	}
	if cfg.Capture.Tracking.Enabled {
		t.Fatalf("expected tracking disabled")
	}
	if cfg.Capture.Tracking.BatchSize != 50 {
		t.Fatalf("expected batch size 50, got %d", cfg.Capture.Tracking.BatchSize)
	}
	// Untouched keys keep their defaults.
	if cfg.Capture.Tracking.FlushIntervalMs != 1000 {
		t.Fatalf("expected default flush interval, got %d", cfg.Capture.Tracking.FlushIntervalMs)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging settings: %+v", cfg.Logging)
	}
	if cfg.Source != path {
		t.Fatalf("expected source %q, got %q", path, cfg.Source)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := Load(missing); err == nil {
		t.Fatalf("expected explicit missing config to fail")
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "paths:\n  output_dirs: typo\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	cases := map[string]string{
		"bad bool":   "capture:\n  webcam_enabled: maybe\n",
		"bad int":    "capture:\n  video:\n    chunk_interval_ms: soon\n",
		"bad level":  "logging:\n  level: verbose\n",
		"bad format": "logging:\n  format: xml\n",
		"odd indent": "paths:\n   output_dir: captures\n",
	}
	for name, contents := range cases {
		path := writeConfig(t, contents)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected load to fail", name)
		}
	}
}

func TestNormalizeLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "info", true},
		{"INFO", "info", true},
		{"warning", "warn", true},
		{"Error", "error", true},
		{"debug", "debug", true},
		{"verbose", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeLogLevel(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("NormalizeLogLevel(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("NormalizeLogLevel(%q) succeeded, expected error", tc.in)
		}
	}
}

func TestNormalizeFormat(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "json", true},
		{"JSON", "json", true},
		{"text", "console", true},
		{"console", "console", true},
		{"xml", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeFormat(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("NormalizeFormat(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("NormalizeFormat(%q) succeeded, expected error", tc.in)
		}
	}
}
