package app

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/drive-telemetry/internal/device"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if config.Device.Source != string(device.SourceAuto) || !config.Device.Fallback() {
		t.Errorf("expected auto source with fallback, got %+v", config.Device)
	}
	if time.Duration(config.Device.SampleInterval) != 100*time.Millisecond {
		t.Errorf("expected 100ms sample interval, got %s", time.Duration(config.Device.SampleInterval))
	}
	if config.GPS.Source != GPSSourceSimulated || config.Leaderboard.Enabled {
		t.Errorf("unexpected defaults: %+v", config)
	}
	if config.LogLevel() != slog.LevelInfo {
		t.Errorf("expected info level, got %s", config.LogLevel())
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
settings:
  logLevel: debug
device:
  source: real
  namePrefix: "PT-"
  scanTimeout: 8s
  sampleInterval: 50ms
  fallbackToSimulator: false
gps:
  source: serial
  port: /dev/ttyACM0
  baudRate: 38400
storage:
  dataDirectory: /var/lib/telemetry
leaderboard:
  enabled: true
  redisAddr: redis:6379
  keyPrefix: "track-day:"
profile:
  userID: driver-7
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if config.LogLevel() != slog.LevelDebug {
		t.Errorf("expected debug level, got %s", config.LogLevel())
	}
	if config.Device.Source != "real" || config.Device.NamePrefix != "PT-" || config.Device.Fallback() {
		t.Errorf("unexpected device config: %+v", config.Device)
	}
	if time.Duration(config.Device.ScanTimeout) != 8*time.Second {
		t.Errorf("expected 8s scan timeout, got %s", time.Duration(config.Device.ScanTimeout))
	}
	if time.Duration(config.Device.AutoConnectTimeout) != device.DefaultAutoConnectTimeout {
		t.Errorf("expected default auto-connect timeout to survive")
	}
	if config.GPS.Port != "/dev/ttyACM0" || config.GPS.BaudRate != 38400 {
		t.Errorf("unexpected gps config: %+v", config.GPS)
	}
	if config.Storage.File != defaultDatabaseFile {
		t.Errorf("expected default database file, got %s", config.Storage.File)
	}
	if !config.Leaderboard.Enabled || config.Leaderboard.KeyPrefix != "track-day:" || config.Profile.UserID != "driver-7" {
		t.Errorf("unexpected leaderboard config: %+v %+v", config.Leaderboard, config.Profile)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"log level", "settings: {logLevel: loud}", "settings.logLevel"},
		{"source", "device: {source: radio}", "device.source"},
		{"sample interval", "device: {sampleInterval: 10ms}", "device.sampleInterval"},
		{"scan timeout", "device: {scanTimeout: 0s}", "device.scanTimeout"},
		{"gps source", "gps: {source: glonass}", "gps.source"},
		{"serial port", "gps: {source: serial}", "gps.port"},
		{"origin", "gps: {originLat: 91}", "gps.originLat"},
		{"redis", "leaderboard: {enabled: true, redisAddr: ''}", "leaderboard.redisAddr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))

			var configErr *ConfigError
			if !errors.As(err, &configErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if configErr.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, configErr.Field)
			}
		})
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "device: {scanTimeout: soon}")); err == nil {
		t.Errorf("expected error for unparsable duration")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
