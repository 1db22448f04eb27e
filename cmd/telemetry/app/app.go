package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roman-kulish/drive-telemetry/internal/account"
	"github.com/roman-kulish/drive-telemetry/internal/device"
	"github.com/roman-kulish/drive-telemetry/internal/device/ble"
	"github.com/roman-kulish/drive-telemetry/internal/gps"
	"github.com/roman-kulish/drive-telemetry/internal/leaderboard"
	"github.com/roman-kulish/drive-telemetry/internal/recorder"
	"github.com/roman-kulish/drive-telemetry/internal/storage"
)

// App holds the components built from the configuration
type App struct {
	config *Config
	logger *slog.Logger

	Store       *storage.SqliteStore
	Manager     *device.Manager
	Tracker     *gps.Recorder
	Recorder    *recorder.Recorder
	Leaderboard *leaderboard.RedisBoard // nil when disabled

	redis    *redis.Client
	location gps.Provider
}

// WithLocationProvider replaces the configured GPS source
func WithLocationProvider(provider gps.Provider) func(a *App) {
	return func(a *App) {
		a.location = provider
	}
}

// New wires the application. Nothing touches the radio, the database or
// Redis until it is used.
func New(config *Config, logger *slog.Logger, options ...func(a *App)) (*App, error) {
	a := App{config: config, logger: logger}

	for _, option := range options {
		option(&a)
	}

	store, err := createStorage(&config.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}
	a.Store = store

	if a.Manager, err = createManager(&config.Device, store, logger); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating device manager: %w", err)
	}

	if a.location == nil {
		a.location = createLocationProvider(&config.GPS, logger)
	}
	a.Tracker = gps.NewRecorder(a.location, gps.WithLogger(logger))

	recorderOptions := []func(r *recorder.Recorder){recorder.WithLogger(logger)}
	if config.Leaderboard.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     config.Leaderboard.RedisAddr,
			Password: config.Leaderboard.Password,
			DB:       config.Leaderboard.DB,
		})
		a.Leaderboard = leaderboard.NewRedisBoard(a.redis, leaderboard.WithKeyPrefix(config.Leaderboard.KeyPrefix))
		recorderOptions = append(recorderOptions, recorder.WithLeaderboard(account.Static{UserID: config.Profile.UserID}, a.Leaderboard))
	}

	a.Recorder = recorder.New(a.Manager, a.Tracker, store, recorderOptions...)

	return &a, nil
}

// Close releases every component, in reverse order of creation
func (a *App) Close() error {
	a.Recorder.Close()
	a.Manager.Close()

	var redisErr error
	if a.redis != nil {
		redisErr = a.redis.Close()
	}

	return errors.Join(redisErr, a.Store.Close())
}

func createManager(config *DeviceConfig, store *storage.SqliteStore, logger *slog.Logger) (*device.Manager, error) {
	source, err := device.ParseSource(config.Source)
	if err != nil {
		return nil, err
	}

	options := []func(m *device.Manager){
		device.WithLogger(logger),
		device.WithSource(source),
		device.WithNamePrefix(config.NamePrefix),
		device.WithScanTimeout(time.Duration(config.ScanTimeout)),
		device.WithAutoConnectTimeout(time.Duration(config.AutoConnectTimeout)),
		device.WithSampleInterval(time.Duration(config.SampleInterval)),
		device.WithFallback(config.Fallback()),
	}

	if source == device.SourceSimulated {
		return device.NewManager(nil, store, options...), nil
	}

	radio, err := ble.NewRadio(ble.Config{
		ServiceUUID: config.ServiceUUID,
		NotifyUUID:  config.NotifyUUID,
		CommandUUID: config.CommandUUID,
	}, ble.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating bluetooth radio: %w", err)
	}

	return device.NewManager(radio, store, options...), nil
}

func createLocationProvider(config *GPSConfig, logger *slog.Logger) gps.Provider {
	switch config.Source {
	case GPSSourceSerial:
		return gps.NewSerialProvider(config.Port, config.BaudRate, gps.WithSerialLogger(logger))
	case GPSSourceSimulated:
		return gps.NewSimulatedProvider(config.OriginLat, config.OriginLon)
	default:
		return gps.Disabled{}
	}
}

func createStorage(config *StorageConfig, logger *slog.Logger) (*storage.SqliteStore, error) {
	dir := config.DataDirectory
	if dir == "" {
		dir = defaultDataDirectory
	}

	if !filepath.IsAbs(dir) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current working directory: %w", err)
		}
		dir = filepath.Join(wd, dir)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory '%s': %w", dir, err)
	}

	return storage.NewSqliteStore(filepath.Join(dir, config.File), storage.WithLogger(logger)), nil
}
