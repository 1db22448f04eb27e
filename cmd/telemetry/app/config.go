package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/drive-telemetry/internal/device"
	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/leaderboard"
)

const (
	GPSSourceSerial    GPSSource = "serial"
	GPSSourceSimulated GPSSource = "simulated"
	GPSSourceNone      GPSSource = "none"
)

// GPSSource selects the location provider
type GPSSource string

const (
	defaultDataDirectory = "data"
	defaultDatabaseFile  = "telemetry.sqlite"
	defaultRedisAddr     = "localhost:6379"
)

// ConfigError reports an invalid configuration value
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Duration is a time.Duration read from strings such as "5s" or "100ms"
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}

	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config represents the main application configuration
type Config struct {
	Settings    Settings          `yaml:"settings"`
	Device      DeviceConfig      `yaml:"device"`
	GPS         GPSConfig         `yaml:"gps"`
	Storage     StorageConfig     `yaml:"storage"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Profile     ProfileConfig     `yaml:"profile"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// DeviceConfig represents the telemetry unit connection settings
type DeviceConfig struct {
	Source              string   `yaml:"source"`
	NamePrefix          string   `yaml:"namePrefix"`
	ServiceUUID         string   `yaml:"serviceUUID"`
	NotifyUUID          string   `yaml:"notifyUUID"`
	CommandUUID         string   `yaml:"commandUUID"`
	ScanTimeout         Duration `yaml:"scanTimeout"`
	AutoConnectTimeout  Duration `yaml:"autoConnectTimeout"`
	SampleInterval      Duration `yaml:"sampleInterval"`
	FallbackToSimulator *bool    `yaml:"fallbackToSimulator"`
}

// GPSConfig represents the location provider settings
type GPSConfig struct {
	Source    GPSSource `yaml:"source"`
	Port      string    `yaml:"port"`
	BaudRate  int       `yaml:"baudRate"`
	OriginLat float64   `yaml:"originLat"`
	OriginLon float64   `yaml:"originLon"`
}

// StorageConfig represents storage settings
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
	File          string `yaml:"file"`
}

// LeaderboardConfig represents the Redis leaderboard settings
type LeaderboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redisAddr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// ProfileConfig identifies the user sessions are attributed to
type ProfileConfig struct {
	UserID string `yaml:"userID"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	fallback := true

	return &Config{
		Settings: Settings{LogLevel: "info"},
		Device: DeviceConfig{
			Source:              string(device.SourceAuto),
			NamePrefix:          device.DefaultNamePrefix,
			ScanTimeout:         Duration(device.DefaultScanTimeout),
			AutoConnectTimeout:  Duration(device.DefaultAutoConnectTimeout),
			SampleInterval:      Duration(device.DefaultSampleInterval),
			FallbackToSimulator: &fallback,
		},
		GPS: GPSConfig{
			Source:   GPSSourceSimulated,
			BaudRate: gps.DefaultBaudRate,
		},
		Storage: StorageConfig{
			DataDirectory: defaultDataDirectory,
			File:          defaultDatabaseFile,
		},
		Leaderboard: LeaderboardConfig{RedisAddr: defaultRedisAddr, KeyPrefix: leaderboard.DefaultKeyPrefix},
	}
}

// LoadConfig reads the configuration file at path on top of the defaults.
// An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading configuration file: %w", err)
		}
		if err = yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing configuration file: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration and returns a *ConfigError for the
// first invalid value
func (c *Config) Validate() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		return &ConfigError{Field: "settings.logLevel", Err: err}
	}

	if _, err := device.ParseSource(c.Device.Source); err != nil {
		return &ConfigError{Field: "device.source", Err: err}
	}
	if c.Device.NamePrefix == "" {
		return &ConfigError{Field: "device.namePrefix", Err: errors.New("must not be empty")}
	}
	if c.Device.ScanTimeout <= 0 {
		return &ConfigError{Field: "device.scanTimeout", Err: errors.New("must be positive")}
	}
	if c.Device.AutoConnectTimeout <= 0 {
		return &ConfigError{Field: "device.autoConnectTimeout", Err: errors.New("must be positive")}
	}
	if d := time.Duration(c.Device.SampleInterval); d < device.MinSampleInterval || d > device.MaxSampleInterval {
		return &ConfigError{
			Field: "device.sampleInterval",
			Err:   fmt.Errorf("%s outside [%s, %s]", d, device.MinSampleInterval, device.MaxSampleInterval),
		}
	}

	switch c.GPS.Source {
	case GPSSourceSerial:
		if c.GPS.Port == "" {
			return &ConfigError{Field: "gps.port", Err: errors.New("required for serial source")}
		}
	case GPSSourceSimulated, GPSSourceNone:
	default:
		return &ConfigError{Field: "gps.source", Err: fmt.Errorf("unknown source '%s'", c.GPS.Source)}
	}
	if c.GPS.OriginLat < -90 || c.GPS.OriginLat > 90 {
		return &ConfigError{Field: "gps.originLat", Err: errors.New("out of range")}
	}
	if c.GPS.OriginLon < -180 || c.GPS.OriginLon > 180 {
		return &ConfigError{Field: "gps.originLon", Err: errors.New("out of range")}
	}

	if c.Storage.File == "" {
		return &ConfigError{Field: "storage.file", Err: errors.New("must not be empty")}
	}

	if c.Leaderboard.Enabled && c.Leaderboard.RedisAddr == "" {
		return &ConfigError{Field: "leaderboard.redisAddr", Err: errors.New("required when enabled")}
	}

	return nil
}

// LogLevel returns the configured log level
func (c *Config) LogLevel() slog.Level {
	var level slog.Level
	_ = level.UnmarshalText([]byte(c.Settings.LogLevel))
	return level
}

// Fallback reports whether the simulator replaces a missing device
func (c *DeviceConfig) Fallback() bool {
	return c.FallbackToSimulator == nil || *c.FallbackToSimulator
}
